package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer("primary-1", 3, 400*time.Millisecond)

	assert.Equal(t, "primary-1", srv.ID())
	assert.Equal(t, 3, srv.MaxCapacity())
	assert.Equal(t, 400*time.Millisecond, srv.BaseResponseTime())
	assert.Equal(t, 3, srv.Weight(), "weight defaults to capacity")
	assert.Equal(t, StatusHealthy, srv.Status())
	assert.Equal(t, 0, srv.CurrentRequests())
	assert.True(t, srv.CanAccept())
}

func TestNewServer_InvalidArguments_Panics(t *testing.T) {
	tests := []struct {
		name string
		fn   func()
	}{
		{"zero capacity", func() { NewServer("s", 0, time.Second) }},
		{"negative capacity", func() { NewServer("s", -1, time.Second) }},
		{"zero response time", func() { NewServer("s", 1, 0) }},
		{"negative weight", func() { NewServer("s", 1, time.Second, WithWeight(-1)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Panics(t, tt.fn)
		})
	}
}

func TestServer_AcceptAndRun_TracksOccupancy(t *testing.T) {
	// GIVEN a server with capacity 2 on a fake clock
	fc := newFakeClock()
	srv := newHeldServer("s", 2, fc)

	// WHEN two requests are in flight
	occupy(t, srv, 2)

	// THEN the server is full and records both requests
	assert.False(t, srv.CanAccept())
	snap := srv.Snapshot()
	assert.Equal(t, 2, snap.CurrentRequests)
	assert.Equal(t, int64(2), snap.TotalHandled)
	require.NotNil(t, snap.LastRequestTime)
	assert.Equal(t, fc.Now(), *snap.LastRequestTime)

	// WHEN the clock passes the response time
	drain(t, fc, srv)

	// THEN occupancy returns to zero but the handled count is kept
	assert.Equal(t, 0, srv.CurrentRequests())
	assert.Equal(t, int64(2), srv.Snapshot().TotalHandled)
}

func TestServer_AcceptAndRun_AtCapacity_RejectsWithoutSideEffect(t *testing.T) {
	fc := newFakeClock()
	srv := newHeldServer("s", 1, fc)
	occupy(t, srv, 1)

	accepted := srv.AcceptAndRun("overflow")

	assert.False(t, accepted)
	assert.Equal(t, 1, srv.CurrentRequests())
	assert.Equal(t, int64(1), srv.Snapshot().TotalHandled)
	drain(t, fc, srv)
}

func TestServer_AcceptAndRun_Down_Rejects(t *testing.T) {
	srv := NewServer("s", 5, time.Millisecond)
	srv.MarkDown()

	assert.False(t, srv.CanAccept())
	assert.False(t, srv.AcceptAndRun("r1"))
	assert.Equal(t, int64(0), srv.Snapshot().TotalHandled)

	srv.MarkHealthy()
	assert.True(t, srv.AcceptAndRun("r2"))
}

func TestServer_ResponseTime_ScalesWithLoad(t *testing.T) {
	srv := NewServer("s", 4, 100*time.Millisecond)

	tests := []struct {
		load int
		want time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 125 * time.Millisecond},
		{2, 150 * time.Millisecond},
		{4, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, srv.responseTime(tt.load), "load=%d", tt.load)
	}
}

func TestServer_AcceptAndRun_WaitsLoadScaledResponseTime(t *testing.T) {
	// GIVEN an idle server with base response time 1h and capacity 2
	fc := newFakeClock()
	srv := NewServer("s", 2, time.Hour, WithClock(fc))

	// WHEN one request is admitted (load 1 → 1.5h)
	occupy(t, srv, 1)
	require.Eventually(t, fc.HasWaiters, time.Second, time.Millisecond)

	// THEN it is still in flight after 1h and finishes after 1.5h
	fc.Step(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, srv.CurrentRequests())
	fc.Step(30 * time.Minute)
	require.Eventually(t, func() bool { return srv.CurrentRequests() == 0 }, time.Second, time.Millisecond)
}

func TestServer_Snapshot_StatusHysteresis(t *testing.T) {
	// GIVEN a server with capacity 10
	fc := newFakeClock()
	srv := newHeldServer("s", 10, fc)

	// WHEN load rises to 8 (80%, inside the band) the status stays healthy
	occupy(t, srv, 8)
	assert.Equal(t, StatusHealthy, srv.Snapshot().Status)

	// WHEN load rises to 10 (100%) the server becomes overloaded
	occupy(t, srv, 2)
	snap := srv.Snapshot()
	assert.Equal(t, StatusOverloaded, snap.Status)
	assert.InDelta(t, 100.0, snap.Utilization, 1e-9)

	// WHEN load falls back into the band, overloaded is kept
	srv.mu.Lock()
	srv.currentRequests = 8
	srv.mu.Unlock()
	assert.Equal(t, StatusOverloaded, srv.Snapshot().Status)
	assert.False(t, srv.CanAccept(), "overloaded server must not accept")

	// WHEN load falls below 70% the server is healthy again
	srv.mu.Lock()
	srv.currentRequests = 6
	srv.mu.Unlock()
	assert.Equal(t, StatusHealthy, srv.Snapshot().Status)

	srv.mu.Lock()
	srv.currentRequests = 10
	srv.mu.Unlock()
	drain(t, fc, srv)
}

func TestServer_Snapshot_DownIsSticky(t *testing.T) {
	srv := NewServer("s", 10, time.Second)
	srv.MarkDown()

	snap := srv.Snapshot()

	assert.Equal(t, StatusDown, snap.Status)
	assert.Nil(t, snap.LastRequestTime)
}

func TestServer_ConcurrentAccept_NeverExceedsCapacity(t *testing.T) {
	// GIVEN a server with capacity 3 and a short real response time
	srv := NewServer("s", 3, 2*time.Millisecond)

	// WHEN 200 requests race to get in while a watcher samples occupancy
	var violations sync.Map
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				if n := srv.CurrentRequests(); n < 0 || n > srv.MaxCapacity() {
					violations.Store(n, true)
				}
			}
		}
	}()
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if srv.AcceptAndRun("r") {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(done)

	// THEN occupancy stayed within [0, capacity] and every admission is counted
	violations.Range(func(k, _ any) bool {
		t.Errorf("observed occupancy %v outside [0, %d]", k, srv.MaxCapacity())
		return true
	})
	assert.Equal(t, 0, srv.CurrentRequests())
	assert.Equal(t, int64(accepted), srv.Snapshot().TotalHandled)
}
