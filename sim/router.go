package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/inference-sim/farmsim/sim/trace"
)

// Router owns the ordered server registry, the selection policy, and the
// aggregate request counters.
//
// Thread-safety: all methods are safe for concurrent use. The router's lock
// covers registry membership, the selection cursor and its own counters; it
// never covers a server's internal state.
type Router struct {
	algo  RoutingAlgo
	clock clock.PassiveClock
	trace *trace.SimulationTrace

	mu             sync.Mutex
	servers        []*Server
	cursor         int
	weightScores   map[*Server]int
	weightFallback int
	totalRequests  int64
	failedRequests int64

	lateRejections atomic.Int64
	inflight       sync.WaitGroup
}

// RouterOption customizes a Router at construction.
type RouterOption func(*Router)

// WithTrace records every routing decision into st.
func WithTrace(st *trace.SimulationTrace) RouterOption {
	return func(r *Router) { r.trace = st }
}

// WithRouterClock sets the clock used to timestamp trace records.
func WithRouterClock(c clock.PassiveClock) RouterOption {
	return func(r *Router) { r.clock = c }
}

// NewRouter creates an empty router using algo.
// Panics on an unrecognized algo.
func NewRouter(algo RoutingAlgo, opts ...RouterOption) *Router {
	if !validRoutingAlgos[algo] {
		panic(fmt.Sprintf("unknown routing policy %q", algo))
	}
	r := &Router{
		algo:         algo,
		clock:        clock.RealClock{},
		weightScores: make(map[*Server]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	logrus.Infof("router initialized with %s algorithm", algo)
	return r
}

// Algo returns the router's selection policy.
func (r *Router) Algo() RoutingAlgo { return r.algo }

// Add appends srv to the registry. Duplicate IDs are not rejected.
func (r *Router) Add(srv *Server) {
	r.mu.Lock()
	r.servers = append(r.servers, srv)
	n := len(r.servers)
	r.mu.Unlock()
	logrus.Infof("added %s to router, total servers: %d", srv.ID(), n)
}

// Remove deletes the first server with the given id, in registry order.
// Returns the removed server, or nil if no server has that id.
func (r *Router) Remove(id string) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, srv := range r.servers {
		if srv.ID() == id {
			r.removeAtLocked(i)
			logrus.Infof("removed %s from router, total servers: %d", id, len(r.servers))
			return srv
		}
	}
	return nil
}

// RemoveIdle deletes the first server, in registry order, that has no
// requests in flight. The server is retired under its own lock before it
// leaves the registry, so it cannot be busy at removal time.
// Returns nil if every server is busy.
func (r *Router) RemoveIdle() *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, srv := range r.servers {
		if srv.retireIfIdle() {
			r.removeAtLocked(i)
			logrus.Infof("removed idle %s from router, total servers: %d", srv.ID(), len(r.servers))
			return srv
		}
	}
	return nil
}

func (r *Router) removeAtLocked(i int) {
	r.servers = append(r.servers[:i], r.servers[i+1:]...)
	if r.cursor >= len(r.servers) {
		r.cursor = 0
	}
}

// Servers returns a copy of the registry in order.
func (r *Router) Servers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, len(r.servers))
	copy(out, r.servers)
	return out
}

// Route selects a server for requestID and dispatches the work to it
// asynchronously. It returns true as soon as dispatch has been initiated,
// without waiting for the server to accept or finish. It returns false,
// counting a failed request, when the registry is empty or no server can
// accept.
//
// A selected server may still reject the request if its load changed after
// selection. Such late rejections are not retried and are not counted as
// failed requests; they are counted separately in RouterStats.LateRejections.
func (r *Router) Route(requestID string) bool {
	r.mu.Lock()
	r.totalRequests++
	if len(r.servers) == 0 {
		r.failedRequests++
		r.mu.Unlock()
		logrus.Debugf("no servers registered for request %s", requestID)
		r.record(requestID, "", trace.OutcomeNoServers)
		return false
	}
	srv := r.selectServer()
	if srv == nil {
		r.failedRequests++
		r.mu.Unlock()
		logrus.Debugf("no available servers for request %s", requestID)
		r.record(requestID, "", trace.OutcomeNoCapacity)
		return false
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	logrus.Debugf("routing request %s to %s", requestID, srv.ID())
	r.record(requestID, srv.ID(), trace.OutcomeDispatched)
	go r.dispatch(srv, requestID)
	return true
}

func (r *Router) dispatch(srv *Server, requestID string) {
	defer r.inflight.Done()
	if !srv.AcceptAndRun(requestID) {
		r.lateRejections.Add(1)
		logrus.Debugf("request %s rejected late by %s", requestID, srv.ID())
	}
}

// selectServer applies the router's policy. Caller must hold r.mu.
func (r *Router) selectServer() *Server {
	switch r.algo {
	case AlgoRotating:
		return selectRotating(r.servers, &r.cursor)
	case AlgoLeastConnections:
		return selectLeastConnections(r.servers)
	case AlgoWeighted:
		return selectWeighted(r.servers, r.weightScores, &r.weightFallback)
	default:
		panic(fmt.Sprintf("unhandled routing policy %q", r.algo))
	}
}

func (r *Router) record(requestID, serverID string, outcome trace.RoutingOutcome) {
	if r.trace == nil {
		return
	}
	r.trace.RecordRouting(trace.RoutingRecord{
		RequestID:    requestID,
		Time:         r.clock.Now(),
		ChosenServer: serverID,
		Algo:         string(r.algo),
		Outcome:      outcome,
	})
}

// Wait blocks until every dispatched request has finished or been rejected.
// Route never calls it; it exists for shutdown and tests.
func (r *Router) Wait() {
	r.inflight.Wait()
}

// RouterStats is a point-in-time view of the router's aggregate state.
type RouterStats struct {
	TotalServers   int
	HealthyServers int
	TotalRequests  int64
	FailedRequests int64
	LateRejections int64
	SuccessRate    float64 // percent; 100 when no requests have been routed
	TotalCapacity  int
	CurrentLoad    int
	Utilization    float64 // percent of total capacity in use
}

// Stats computes aggregate statistics over the registry.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RouterStats{
		TotalServers:   len(r.servers),
		TotalRequests:  r.totalRequests,
		FailedRequests: r.failedRequests,
		LateRejections: r.lateRejections.Load(),
	}
	for _, srv := range r.servers {
		if srv.Status() == StatusHealthy {
			stats.HealthyServers++
		}
		stats.TotalCapacity += srv.MaxCapacity()
		stats.CurrentLoad += srv.CurrentRequests()
	}
	stats.SuccessRate = 100
	if r.totalRequests > 0 {
		stats.SuccessRate = float64(r.totalRequests-r.failedRequests) / float64(r.totalRequests) * 100
	}
	stats.Utilization = float64(stats.CurrentLoad) / float64(max(1, stats.TotalCapacity)) * 100
	return stats
}
