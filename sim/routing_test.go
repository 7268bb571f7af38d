package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idleServers(capacities ...int) []*Server {
	servers := make([]*Server, len(capacities))
	for i, c := range capacities {
		servers[i] = NewServer(serverName(i), c, time.Millisecond)
	}
	return servers
}

func TestParseRoutingAlgo(t *testing.T) {
	tests := []struct {
		name    string
		want    RoutingAlgo
		wantErr bool
	}{
		{"", AlgoRotating, false},
		{"rotating", AlgoRotating, false},
		{"least-connections", AlgoLeastConnections, false},
		{"weighted", AlgoWeighted, false},
		{"round-robin", "", true},
		{"ROTATING", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRoutingAlgo(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidRoutingAlgos_Sorted(t *testing.T) {
	assert.Equal(t, []string{"least-connections", "rotating", "weighted"}, ValidRoutingAlgos())
}

// TestRotating_DeterministicOrdering verifies that with always-available
// servers the assignments cycle in registry order from the cursor.
func TestRotating_DeterministicOrdering(t *testing.T) {
	// GIVEN three idle servers and a cursor at 1
	servers := idleServers(5, 5, 5)
	cursor := 1

	// WHEN 6 selections are made
	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, selectRotating(servers, &cursor).ID())
	}

	// THEN assignments cycle 1, 2, 0, 1, 2, 0
	want := []string{serverName(1), serverName(2), serverName(0), serverName(1), serverName(2), serverName(0)}
	assert.Equal(t, want, got)
}

// TestRotating_CursorAdvancesPerAttempt verifies the cursor moves once per
// attempted server, including rejected ones.
func TestRotating_CursorAdvancesPerAttempt(t *testing.T) {
	// GIVEN servers 0 and 1 down, server 2 available
	servers := idleServers(1, 1, 1, 1)
	servers[0].MarkDown()
	servers[1].MarkDown()
	cursor := 0

	// WHEN one selection is made
	chosen := selectRotating(servers, &cursor)

	// THEN server 2 is chosen after three attempts
	require.NotNil(t, chosen)
	assert.Equal(t, serverName(2), chosen.ID())
	assert.Equal(t, 3, cursor)
}

func TestRotating_NoneAvailable_FullScanWrapsCursor(t *testing.T) {
	servers := idleServers(1, 1, 1)
	for _, s := range servers {
		s.MarkDown()
	}
	cursor := 2

	assert.Nil(t, selectRotating(servers, &cursor))
	assert.Equal(t, 2, cursor, "a full scan of n attempts returns the cursor to its start")
}

func TestRotating_EmptyRegistry_ReturnsNil(t *testing.T) {
	cursor := 0
	assert.Nil(t, selectRotating(nil, &cursor))
}

// TestLeastConnections_TieBreaksOnEarliest verifies that with occupancies
// [2,0,0,1] the server at index 1 is selected.
func TestLeastConnections_TieBreaksOnEarliest(t *testing.T) {
	fc := newFakeClock()
	_, servers := newLoadedRouter(t, fc, AlgoLeastConnections, []int{5, 5, 5, 5}, []int{2, 0, 0, 1})

	chosen := selectLeastConnections(servers)

	require.NotNil(t, chosen)
	assert.Same(t, servers[1], chosen)
	drain(t, fc, servers...)
}

func TestLeastConnections_SkipsNonAccepting(t *testing.T) {
	// GIVEN an idle but down server and a full server ahead of a busy one
	fc := newFakeClock()
	_, servers := newLoadedRouter(t, fc, AlgoLeastConnections, []int{3, 1, 3}, []int{0, 1, 2})
	servers[0].MarkDown()

	chosen := selectLeastConnections(servers)

	require.NotNil(t, chosen)
	assert.Same(t, servers[2], chosen)
	drain(t, fc, servers...)
}

func TestLeastConnections_NoneAccepting_ReturnsNil(t *testing.T) {
	servers := idleServers(1, 1)
	servers[0].MarkDown()
	servers[1].MarkDown()

	assert.Nil(t, selectLeastConnections(servers))
}

// TestWeighted_DistributesProportionally verifies smooth weighted
// round-robin: weights 5,1,1 over 7 picks give a,a,b,a,c,a,a.
func TestWeighted_DistributesProportionally(t *testing.T) {
	servers := []*Server{
		NewServer("a", 10, time.Millisecond, WithWeight(5)),
		NewServer("b", 10, time.Millisecond, WithWeight(1)),
		NewServer("c", 10, time.Millisecond, WithWeight(1)),
	}
	scores := make(map[*Server]int)
	fallback := 0

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, selectWeighted(servers, scores, &fallback).ID())
	}

	assert.Equal(t, []string{"a", "a", "b", "a", "c", "a", "a"}, got)
}

func TestWeighted_EqualWeights_TieBreaksOnEarliest(t *testing.T) {
	servers := idleServers(2, 2, 2)
	scores := make(map[*Server]int)
	fallback := 0

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, selectWeighted(servers, scores, &fallback).ID())
	}

	assert.Equal(t, []string{serverName(0), serverName(1), serverName(2)}, got)
}

func TestWeighted_ZeroWeightNeverChosenWhenOthersPositive(t *testing.T) {
	servers := []*Server{
		NewServer("zero", 10, time.Millisecond, WithWeight(0)),
		NewServer("one", 10, time.Millisecond, WithWeight(1)),
	}
	scores := make(map[*Server]int)
	fallback := 0

	for i := 0; i < 5; i++ {
		assert.Equal(t, "one", selectWeighted(servers, scores, &fallback).ID())
	}
}

func TestWeighted_AllZeroWeights_FallsBackToRotation(t *testing.T) {
	servers := []*Server{
		NewServer("a", 10, time.Millisecond, WithWeight(0)),
		NewServer("b", 10, time.Millisecond, WithWeight(0)),
	}
	scores := make(map[*Server]int)
	fallback := 0

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, selectWeighted(servers, scores, &fallback).ID())
	}

	assert.Equal(t, []string{"a", "b", "a", "b"}, got)
}

func TestWeighted_PrunesRemovedServers(t *testing.T) {
	servers := idleServers(1, 1)
	scores := make(map[*Server]int)
	fallback := 0
	selectWeighted(servers, scores, &fallback)
	require.Len(t, scores, 2)

	selectWeighted(servers[:1], scores, &fallback)

	assert.Len(t, scores, 1)
	_, ok := scores[servers[1]]
	assert.False(t, ok)
}

func TestWeighted_NoneAccepting_ReturnsNil(t *testing.T) {
	servers := idleServers(1)
	servers[0].MarkDown()
	fallback := 0

	assert.Nil(t, selectWeighted(servers, make(map[*Server]int), &fallback))
}
