package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/inference-sim/farmsim/sim/trace"
)

// AutoscalerConfig groups the control loop parameters.
type AutoscalerConfig struct {
	MinServers         int           // never scale below
	MaxServers         int           // never scale above
	Interval           time.Duration // control loop period
	Cooldown           time.Duration // minimum gap between two scale actions
	ScaleUpThreshold   float64       // utilization percent above which a server is added
	ScaleDownThreshold float64       // utilization percent below which an idle server is removed

	NewServerCapacity     int           // capacity of servers added on scale-up
	NewServerResponseTime time.Duration // base response time of servers added on scale-up
	NamePrefix            string        // added servers are named <prefix>-<n>
}

// DefaultAutoscalerConfig returns the stock control loop: check every 5s,
// 10s cooldown, add above 70% and remove below 30%, between 2 and 8 servers.
func DefaultAutoscalerConfig() AutoscalerConfig {
	return AutoscalerConfig{
		MinServers:            2,
		MaxServers:            8,
		Interval:              5 * time.Second,
		Cooldown:              10 * time.Second,
		ScaleUpThreshold:      70,
		ScaleDownThreshold:    30,
		NewServerCapacity:     3,
		NewServerResponseTime: 400 * time.Millisecond,
		NamePrefix:            "auto",
	}
}

// Validate checks bounds, thresholds and durations.
func (c AutoscalerConfig) Validate() error {
	if c.MinServers < 1 {
		return fmt.Errorf("min servers must be >= 1, got %d", c.MinServers)
	}
	if c.MaxServers < c.MinServers {
		return fmt.Errorf("max servers (%d) must be >= min servers (%d)", c.MaxServers, c.MinServers)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %v", c.Interval)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %v", c.Cooldown)
	}
	if c.ScaleDownThreshold < 0 || c.ScaleUpThreshold > 100 || c.ScaleDownThreshold >= c.ScaleUpThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= down < up <= 100, got down=%.1f up=%.1f",
			c.ScaleDownThreshold, c.ScaleUpThreshold)
	}
	if c.NewServerCapacity <= 0 {
		return fmt.Errorf("new server capacity must be > 0, got %d", c.NewServerCapacity)
	}
	if c.NewServerResponseTime <= 0 {
		return fmt.Errorf("new server response time must be > 0, got %v", c.NewServerResponseTime)
	}
	if c.NamePrefix == "" {
		return errors.New("name prefix must not be empty")
	}
	return nil
}

// ScaleAction is the outcome of one control loop cycle.
type ScaleAction string

const (
	ScaleNone     ScaleAction = "none"     // dead zone, bound reached, or no idle server
	ScaleCooldown ScaleAction = "cooldown" // skipped: last action too recent
	ScaleUp       ScaleAction = "scale-up"
	ScaleDown     ScaleAction = "scale-down"
)

// Autoscaler resizes a router's registry from its aggregate utilization.
// It does not own the router.
type Autoscaler struct {
	router *Router
	cfg    AutoscalerConfig
	clock  clock.WithTicker
	trace  *trace.SimulationTrace

	// mu serializes Evaluate so a manual cycle cannot interleave with the loop.
	mu            sync.Mutex
	lastScaleTime time.Time
	serverSeq     int

	lifecycle sync.Mutex
	running   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// AutoscalerOption customizes an Autoscaler at construction.
type AutoscalerOption func(*Autoscaler)

// WithAutoscalerClock sets the clock driving the loop and the cooldown.
// Servers added on scale-up use the same clock.
func WithAutoscalerClock(c clock.WithTicker) AutoscalerOption {
	return func(a *Autoscaler) { a.clock = c }
}

// WithScalingTrace records every scale action into st.
func WithScalingTrace(st *trace.SimulationTrace) AutoscalerOption {
	return func(a *Autoscaler) { a.trace = st }
}

// NewAutoscaler creates a stopped autoscaler for router.
func NewAutoscaler(router *Router, cfg AutoscalerConfig, opts ...AutoscalerOption) (*Autoscaler, error) {
	if router == nil {
		return nil, errors.New("router must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid autoscaler config: %w", err)
	}
	a := &Autoscaler{
		router: router,
		cfg:    cfg,
		clock:  clock.RealClock{},
	}
	for _, opt := range opts {
		opt(a)
	}
	logrus.Infof("autoscaler initialized with min %d and max %d servers", cfg.MinServers, cfg.MaxServers)
	return a, nil
}

// MinServers returns the lower bound on the registry size.
func (a *Autoscaler) MinServers() int { return a.cfg.MinServers }

// MaxServers returns the upper bound on the registry size.
func (a *Autoscaler) MaxServers() int { return a.cfg.MaxServers }

// Running reports whether the control loop is active.
func (a *Autoscaler) Running() bool { return a.running.Load() }

// Start launches the control loop. No-op if already running.
func (a *Autoscaler) Start() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if a.running.Load() {
		return
	}
	a.running.Store(true)
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.monitor(a.stopCh, a.doneCh)
	logrus.Info("autoscaler started")
}

// Stop halts the control loop and waits for it to exit. Requests already
// in flight are not affected. No-op if not running.
func (a *Autoscaler) Stop() {
	a.lifecycle.Lock()
	defer a.lifecycle.Unlock()
	if !a.running.Load() {
		return
	}
	a.running.Store(false)
	close(a.stopCh)
	<-a.doneCh
	logrus.Info("autoscaler stopped")
}

func (a *Autoscaler) monitor(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := a.clock.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !a.running.Load() {
				return
			}
			a.Evaluate()
		}
	}
}

// Evaluate runs one control loop cycle:
//   - within the cooldown of the last action, do nothing;
//   - above the scale-up threshold and below MaxServers, add one server;
//   - below the scale-down threshold and above MinServers, remove the first
//     idle server in registry order, or do nothing if every server is busy;
//   - otherwise do nothing.
func (a *Autoscaler) Evaluate() ScaleAction {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if !a.lastScaleTime.IsZero() && now.Sub(a.lastScaleTime) < a.cfg.Cooldown {
		return ScaleCooldown
	}

	stats := a.router.Stats()
	util, n := stats.Utilization, stats.TotalServers
	switch {
	case util > a.cfg.ScaleUpThreshold && n < a.cfg.MaxServers:
		a.scaleUp(now, util)
		return ScaleUp
	case util < a.cfg.ScaleDownThreshold && n > a.cfg.MinServers:
		if a.scaleDown(now, util) {
			return ScaleDown
		}
		logrus.Debugf("autoscaler: utilization %.1f%% but no idle server to remove", util)
	}
	return ScaleNone
}

func (a *Autoscaler) scaleUp(now time.Time, util float64) {
	a.serverSeq++
	id := fmt.Sprintf("%s-%d", a.cfg.NamePrefix, a.serverSeq)
	srv := NewServer(id, a.cfg.NewServerCapacity, a.cfg.NewServerResponseTime, WithClock(a.clock))
	a.router.Add(srv)
	a.lastScaleTime = now
	total := len(a.router.Servers())
	logrus.Infof("scaled up: added server %s at %.1f%% utilization (total: %d)", id, util, total)
	a.record(now, trace.ActionScaleUp, id, total, util)
}

func (a *Autoscaler) scaleDown(now time.Time, util float64) bool {
	srv := a.router.RemoveIdle()
	if srv == nil {
		return false
	}
	a.lastScaleTime = now
	total := len(a.router.Servers())
	logrus.Infof("scaled down: removed server %s at %.1f%% utilization (total: %d)", srv.ID(), util, total)
	a.record(now, trace.ActionScaleDown, srv.ID(), total, util)
	return true
}

func (a *Autoscaler) record(now time.Time, action trace.ScalingAction, id string, total int, util float64) {
	if a.trace == nil {
		return
	}
	a.trace.RecordScaling(trace.ScalingRecord{
		Time:         now,
		Action:       action,
		ServerID:     id,
		ServersAfter: total,
		Utilization:  util,
	})
}
