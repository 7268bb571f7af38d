// Package sim provides the live server farm: servers with bounded
// concurrency, the router that spreads requests across them, and the
// autoscaler that grows and shrinks the router's registry.
//
// # Reading Guide
//
// Start with these files:
//   - server.go: capacity model, load-dependent response time, status hysteresis
//   - routing.go: the rotating, least-connections and weighted selection policies
//   - router.go: registry, fire-and-forget dispatch, aggregate stats
//   - autoscaler.go: the threshold-driven control loop with cooldown
//   - bundle.go: YAML farm configuration
//
// # Concurrency
//
// Every request runs in its own goroutine. The router's lock covers the
// registry and its counters; each server's lock covers only that server.
// When both are needed the router lock is taken first. No lock is held while
// a request is being processed.
//
// Time is read through k8s.io/utils/clock so tests can drive response times,
// the control loop ticker and the cooldown with a fake clock.
//
// # Sub-packages
//
//   - sim/workload/: synthetic traffic patterns and the rate-paced generator
//   - sim/monitor/: read-only terminal dashboard
//   - sim/trace/: routing and scaling decision records
package sim
