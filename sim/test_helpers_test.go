package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clocktest "k8s.io/utils/clock/testing"
)

// holdTime is long enough that a held request never finishes unless the
// fake clock is stepped past it.
const holdTime = time.Hour

func newFakeClock() *clocktest.FakeClock {
	return clocktest.NewFakeClock(time.Unix(1_700_000_000, 0))
}

// newHeldServer creates a server whose requests stay in flight until the
// fake clock is stepped.
func newHeldServer(id string, capacity int, fc *clocktest.FakeClock, opts ...ServerOption) *Server {
	return NewServer(id, capacity, holdTime, append([]ServerOption{WithClock(fc)}, opts...)...)
}

// occupy starts n requests on srv and waits until all are in flight.
func occupy(t *testing.T, srv *Server, n int) {
	t.Helper()
	start := srv.CurrentRequests()
	for i := 0; i < n; i++ {
		go srv.AcceptAndRun("hold")
	}
	require.Eventually(t, func() bool { return srv.CurrentRequests() == start+n },
		time.Second, time.Millisecond, "server %s never reached %d in-flight requests", srv.ID(), start+n)
}

// drain steps the fake clock until every server is idle.
func drain(t *testing.T, fc *clocktest.FakeClock, servers ...*Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		fc.Step(10 * holdTime)
		for _, srv := range servers {
			if srv.CurrentRequests() != 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, time.Millisecond)
}

// newLoadedRouter registers servers with the given capacities and in-flight
// loads, in order.
func newLoadedRouter(t *testing.T, fc *clocktest.FakeClock, algo RoutingAlgo, capacities, loads []int) (*Router, []*Server) {
	t.Helper()
	require.Equal(t, len(capacities), len(loads))
	r := NewRouter(algo, WithRouterClock(fc))
	servers := make([]*Server, len(capacities))
	for i := range capacities {
		servers[i] = newHeldServer(serverName(i), capacities[i], fc)
		occupy(t, servers[i], loads[i])
		r.Add(servers[i])
	}
	return r, servers
}

func serverName(i int) string {
	return "server-" + string(rune('a'+i))
}
