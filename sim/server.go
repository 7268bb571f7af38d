// Defines the Server type that models one synthetic backend in the farm.
// Tracks concurrent occupancy against a fixed capacity, the load-dependent
// response time, and the healthy/overloaded/down status with hysteresis.

package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// ServerStatus represents the health state of a server.
type ServerStatus string

const (
	StatusHealthy    ServerStatus = "healthy"
	StatusOverloaded ServerStatus = "overloaded"
	StatusDown       ServerStatus = "down"
)

// Status thresholds, in percent of capacity. Between the two the status
// is left unchanged so a server hovering near its limit does not flap.
const (
	overloadedAbovePct = 90.0
	healthyBelowPct    = 70.0
)

// Server is a simulated backend with bounded concurrency.
//
// Thread-safety: all methods are safe for concurrent use. The server's lock
// guards only its own state and is never held while a request is in flight.
type Server struct {
	id               string
	maxCapacity      int
	baseResponseTime time.Duration
	weight           int
	clock            clock.Clock

	mu              sync.Mutex
	currentRequests int
	totalHandled    int64
	status          ServerStatus
	lastRequestTime time.Time // zero until the first accepted request
}

// ServerOption customizes a Server at construction.
type ServerOption func(*Server)

// WithWeight sets the server's weight for the weighted routing policy.
// Defaults to the server's max capacity.
func WithWeight(weight int) ServerOption {
	return func(s *Server) { s.weight = weight }
}

// WithClock sets the clock used to time simulated processing.
func WithClock(c clock.Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// NewServer creates a healthy, idle server.
// Panics if maxCapacity or baseResponseTime is not positive, or if a
// negative weight is supplied.
func NewServer(id string, maxCapacity int, baseResponseTime time.Duration, opts ...ServerOption) *Server {
	if maxCapacity <= 0 {
		panic(fmt.Sprintf("NewServer(%q): maxCapacity must be > 0, got %d", id, maxCapacity))
	}
	if baseResponseTime <= 0 {
		panic(fmt.Sprintf("NewServer(%q): baseResponseTime must be > 0, got %v", id, baseResponseTime))
	}
	s := &Server{
		id:               id,
		maxCapacity:      maxCapacity,
		baseResponseTime: baseResponseTime,
		weight:           maxCapacity,
		clock:            clock.RealClock{},
		status:           StatusHealthy,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.weight < 0 {
		panic(fmt.Sprintf("NewServer(%q): weight must be >= 0, got %d", id, s.weight))
	}
	logrus.Debugf("server %s initialized: capacity=%d base_response_time=%v weight=%d",
		id, maxCapacity, baseResponseTime, s.weight)
	return s
}

// ID returns the server identifier.
func (s *Server) ID() string { return s.id }

// MaxCapacity returns the maximum number of concurrent requests.
func (s *Server) MaxCapacity() int { return s.maxCapacity }

// BaseResponseTime returns the unloaded processing time of one request.
func (s *Server) BaseResponseTime() time.Duration { return s.baseResponseTime }

// Weight returns the weight used by the weighted routing policy.
func (s *Server) Weight() int { return s.weight }

// CurrentRequests returns the number of requests in flight.
func (s *Server) CurrentRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRequests
}

// Status returns the last computed status without refreshing it.
func (s *Server) Status() ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CanAccept reports whether the server is healthy and below capacity.
func (s *Server) CanAccept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canAcceptLocked()
}

func (s *Server) canAcceptLocked() bool {
	return s.currentRequests < s.maxCapacity && s.status == StatusHealthy
}

// acceptingLoad returns the in-flight count and whether the server can
// accept, read under a single lock acquisition.
func (s *Server) acceptingLoad() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentRequests, s.canAcceptLocked()
}

// AcceptAndRun admits the request if the server can take it and then
// simulates processing it. The admission check and the occupancy increment
// are one critical section; the processing wait holds no lock.
// Returns false, with no side effect, if the request was rejected.
// Blocks for the simulated response time when accepted.
func (s *Server) AcceptAndRun(requestID string) bool {
	s.mu.Lock()
	if !s.canAcceptLocked() {
		s.mu.Unlock()
		logrus.Debugf("server %s rejected request %s", s.id, requestID)
		return false
	}
	s.currentRequests++
	s.totalHandled++
	s.lastRequestTime = s.clock.Now()
	load := s.currentRequests
	s.mu.Unlock()

	responseTime := s.responseTime(load)
	logrus.Debugf("server %s processing request %s for %v", s.id, requestID, responseTime)
	<-s.clock.After(responseTime)

	s.mu.Lock()
	s.currentRequests--
	s.mu.Unlock()
	return true
}

// responseTime scales the base response time by the load observed at
// admission: base * (1 + load/capacity).
func (s *Server) responseTime(load int) time.Duration {
	factor := 1.0 + float64(load)/float64(s.maxCapacity)
	return time.Duration(float64(s.baseResponseTime) * factor)
}

// MarkDown takes the server out of service. In-flight requests finish
// normally; no new request is accepted until MarkHealthy.
func (s *Server) MarkDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDown
	logrus.Infof("server %s marked down", s.id)
}

// MarkHealthy returns a down or overloaded server to service.
func (s *Server) MarkHealthy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusHealthy
	logrus.Infof("server %s marked healthy", s.id)
}

// retireIfIdle marks the server down if it has no requests in flight.
// Used on scale-down so that an idle server cannot pick up a late dispatch
// between the idle check and its removal from the registry.
func (s *Server) retireIfIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRequests != 0 {
		return false
	}
	s.status = StatusDown
	return true
}

// ServerSnapshot is a point-in-time copy of a server's state.
type ServerSnapshot struct {
	ID              string
	CurrentRequests int
	MaxCapacity     int
	TotalHandled    int64
	Utilization     float64 // percent of capacity in use
	Status          ServerStatus
	LastRequestTime *time.Time // nil if the server never accepted a request
}

// Snapshot refreshes the server status from its utilization and returns a
// copy of its state. Above 90% the server becomes overloaded, below 70% it
// becomes healthy again, and in between the status is kept. A down server
// stays down.
func (s *Server) Snapshot() ServerSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	util := float64(s.currentRequests) / float64(s.maxCapacity) * 100
	if s.status != StatusDown {
		switch {
		case util > overloadedAbovePct:
			s.status = StatusOverloaded
		case util < healthyBelowPct:
			s.status = StatusHealthy
		}
	}

	snap := ServerSnapshot{
		ID:              s.id,
		CurrentRequests: s.currentRequests,
		MaxCapacity:     s.maxCapacity,
		TotalHandled:    s.totalHandled,
		Utilization:     util,
		Status:          s.status,
	}
	if !s.lastRequestTime.IsZero() {
		t := s.lastRequestTime
		snap.LastRequestTime = &t
	}
	return snap
}
