// Package monitor renders a read-only terminal view of a running farm.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/inference-sim/farmsim/sim"
	"github.com/inference-sim/farmsim/sim/workload"
)

const (
	ruleWidth   = 72
	clearScreen = "\033[2J\033[H"
	timeLayout  = "2006-01-02 15:04:05"
)

// RouterView is the router state the dashboard reads.
type RouterView interface {
	Algo() sim.RoutingAlgo
	Stats() sim.RouterStats
	Servers() []*sim.Server
}

// ScalerView is the autoscaler state the dashboard reads.
type ScalerView interface {
	MinServers() int
	MaxServers() int
	Running() bool
}

// TrafficView is the traffic source state the dashboard reads.
type TrafficView interface {
	Pattern() workload.Pattern
	CurrentRate() float64
	Sent() int64
	Accepted() int64
}

// Dashboard periodically writes a snapshot of the farm to out.
type Dashboard struct {
	router  RouterView
	scaler  ScalerView
	traffic TrafficView
	out     io.Writer
	clock   clock.WithTicker
	clear   bool
}

// Option customizes a Dashboard at construction.
type Option func(*Dashboard)

// WithTraffic adds a traffic section to each frame.
func WithTraffic(t TrafficView) Option {
	return func(d *Dashboard) { d.traffic = t }
}

// WithClock sets the clock used for frame timestamps and the refresh ticker.
func WithClock(c clock.WithTicker) Option {
	return func(d *Dashboard) { d.clock = c }
}

// WithClearScreen prefixes each frame with an ANSI clear-screen sequence.
func WithClearScreen(enabled bool) Option {
	return func(d *Dashboard) { d.clear = enabled }
}

// NewDashboard creates a dashboard over router. scaler may be nil when the
// farm runs without an autoscaler.
func NewDashboard(router RouterView, scaler ScalerView, out io.Writer, opts ...Option) *Dashboard {
	if router == nil {
		panic("monitor: router must not be nil")
	}
	d := &Dashboard{
		router: router,
		scaler: scaler,
		out:    out,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Render writes one frame.
func (d *Dashboard) Render() error {
	var b bytes.Buffer
	rule := strings.Repeat("=", ruleWidth)
	if d.clear {
		b.WriteString(clearScreen)
	}
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Server Farm Monitor - %s\n", d.clock.Now().Format(timeLayout))
	fmt.Fprintln(&b, rule)

	stats := d.router.Stats()
	fmt.Fprintln(&b, "\nLOAD BALANCER:")
	fmt.Fprintf(&b, " Algorithm: %s\n", d.router.Algo())
	fmt.Fprintf(&b, " Servers: %d active\n", stats.TotalServers)
	fmt.Fprintf(&b, " Success Rate: %.1f%%\n", stats.SuccessRate)
	fmt.Fprintf(&b, " System Load: %d/%d (%.1f%%)\n", stats.CurrentLoad, stats.TotalCapacity, stats.Utilization)
	if stats.LateRejections > 0 {
		fmt.Fprintf(&b, " Late Rejections: %d\n", stats.LateRejections)
	}

	fmt.Fprintln(&b, "\n Servers:")
	for i, srv := range d.router.Servers() {
		snap := srv.Snapshot()
		icon := "OFFLINE ○"
		if snap.Status == sim.StatusHealthy {
			icon = "ONLINE ●"
		}
		fmt.Fprintf(&b, " %d. %s: %d/%d (%.0f%%) %s\n",
			i+1, snap.ID, snap.CurrentRequests, snap.MaxCapacity, snap.Utilization, icon)
	}

	if d.scaler != nil {
		state := "stopped"
		if d.scaler.Running() {
			state = "running"
		}
		fmt.Fprintln(&b, "\nAUTOSCALER:")
		fmt.Fprintf(&b, " Range: %d-%d servers\n", d.scaler.MinServers(), d.scaler.MaxServers())
		fmt.Fprintf(&b, " Status: %s\n", state)
	}

	if d.traffic != nil {
		fmt.Fprintln(&b, "\nTRAFFIC:")
		fmt.Fprintf(&b, " Pattern: %s\n", d.traffic.Pattern())
		fmt.Fprintf(&b, " Rate: %.1f req/s\n", d.traffic.CurrentRate())
		fmt.Fprintf(&b, " Sent: %d (accepted %d)\n", d.traffic.Sent(), d.traffic.Accepted())
	}

	_, err := d.out.Write(b.Bytes())
	return err
}

// Run renders a frame immediately and then every interval until ctx is
// cancelled. It returns nil on cancellation and the first write error
// otherwise.
func (d *Dashboard) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be > 0, got %v", interval)
	}
	if err := d.Render(); err != nil {
		return fmt.Errorf("rendering dashboard: %w", err)
	}
	ticker := d.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := d.Render(); err != nil {
				return fmt.Errorf("rendering dashboard: %w", err)
			}
		}
	}
}
