package sim

import (
	"fmt"
	"sort"
)

// RoutingAlgo names a server selection policy. The set is closed; every
// value is handled by Router.selectServer.
type RoutingAlgo string

const (
	// AlgoRotating scans servers round-robin from a cursor that advances once
	// per attempt, whether or not the attempted server accepts.
	AlgoRotating RoutingAlgo = "rotating"
	// AlgoLeastConnections picks the accepting server with the fewest
	// requests in flight. Ties go to the earliest registry position.
	AlgoLeastConnections RoutingAlgo = "least-connections"
	// AlgoWeighted runs smooth weighted round-robin over accepting servers.
	AlgoWeighted RoutingAlgo = "weighted"
)

// validRoutingAlgos is the set of recognized routing policy names.
var validRoutingAlgos = map[RoutingAlgo]bool{
	AlgoRotating:         true,
	AlgoLeastConnections: true,
	AlgoWeighted:         true,
}

// IsValidRoutingAlgo returns true if name is a recognized routing policy.
func IsValidRoutingAlgo(name string) bool {
	return validRoutingAlgos[RoutingAlgo(name)]
}

// ValidRoutingAlgos returns the recognized routing policy names, sorted.
func ValidRoutingAlgos() []string {
	names := make([]string, 0, len(validRoutingAlgos))
	for name := range validRoutingAlgos {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// ParseRoutingAlgo converts a policy name to a RoutingAlgo.
// An empty string defaults to AlgoRotating.
func ParseRoutingAlgo(name string) (RoutingAlgo, error) {
	if name == "" {
		return AlgoRotating, nil
	}
	if !IsValidRoutingAlgo(name) {
		return "", fmt.Errorf("unknown routing policy %q (valid: %v)", name, ValidRoutingAlgos())
	}
	return RoutingAlgo(name), nil
}

// selectRotating scans at most len(servers) positions starting at *cursor.
// The cursor advances once per attempt so that sustained rejection still
// spreads attempts evenly across the registry.
func selectRotating(servers []*Server, cursor *int) *Server {
	n := len(servers)
	if n == 0 {
		return nil
	}
	*cursor %= n
	for attempt := 0; attempt < n; attempt++ {
		srv := servers[*cursor]
		*cursor = (*cursor + 1) % n
		if srv.CanAccept() {
			return srv
		}
	}
	return nil
}

// selectLeastConnections returns the accepting server with minimum
// in-flight requests. Strict < keeps the earliest server on ties.
func selectLeastConnections(servers []*Server) *Server {
	var target *Server
	minLoad := 0
	for _, srv := range servers {
		load, ok := srv.acceptingLoad()
		if !ok {
			continue
		}
		if target == nil || load < minLoad {
			target = srv
			minLoad = load
		}
	}
	return target
}

// selectWeighted implements smooth weighted round-robin over accepting
// servers. Each candidate's score grows by its weight, the highest score
// wins (earliest server on ties), and the winner's score drops by the total
// candidate weight. If every candidate has zero weight it degrades to plain
// rotation using fallback.
//
// scores is pruned of servers no longer in the registry.
func selectWeighted(servers []*Server, scores map[*Server]int, fallback *int) *Server {
	present := make(map[*Server]struct{}, len(servers))
	candidates := make([]*Server, 0, len(servers))
	totalWeight := 0
	for _, srv := range servers {
		present[srv] = struct{}{}
		if !srv.CanAccept() {
			continue
		}
		candidates = append(candidates, srv)
		totalWeight += srv.Weight()
	}
	for srv := range scores {
		if _, ok := present[srv]; !ok {
			delete(scores, srv)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	if totalWeight == 0 {
		chosen := candidates[*fallback%len(candidates)]
		*fallback++
		return chosen
	}

	var chosen *Server
	best := 0
	for _, srv := range candidates {
		if srv.Weight() == 0 {
			continue
		}
		scores[srv] += srv.Weight()
		if chosen == nil || scores[srv] > best {
			chosen = srv
			best = scores[srv]
		}
	}
	scores[chosen] -= totalWeight
	*fallback = 0
	return chosen
}
