package trace

import "sync"

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures all routing and scaling decisions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// DefaultMaxRoutingRecords bounds the routing records a trace keeps when
// TraceConfig.MaxRoutings is not set.
const DefaultMaxRoutingRecords = 100000

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level       TraceLevel
	MaxRoutings int // routing records kept; <= 0 uses DefaultMaxRoutingRecords
}

// SimulationTrace collects decision records during a run.
// Safe for concurrent use: the router records from many goroutines while the
// autoscaler records from its own loop.
type SimulationTrace struct {
	Config TraceConfig

	mu       sync.Mutex
	routings []RoutingRecord
	scalings []ScalingRecord
	dropped  int
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:   config,
		routings: make([]RoutingRecord, 0),
		scalings: make([]ScalingRecord, 0),
	}
}

// RecordRouting appends a routing decision record. Once the routing cap is
// reached the record is counted as dropped instead.
func (st *SimulationTrace) RecordRouting(record RoutingRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.routings) >= st.maxRoutings() {
		st.dropped++
		return
	}
	st.routings = append(st.routings, record)
}

func (st *SimulationTrace) maxRoutings() int {
	if st.Config.MaxRoutings <= 0 {
		return DefaultMaxRoutingRecords
	}
	return st.Config.MaxRoutings
}

// DroppedRoutings returns how many routing records were discarded by the cap.
func (st *SimulationTrace) DroppedRoutings() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.dropped
}

// RecordScaling appends an autoscaler action record.
func (st *SimulationTrace) RecordScaling(record ScalingRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.scalings = append(st.scalings, record)
}

// Routings returns a copy of the routing records in recording order.
func (st *SimulationTrace) Routings() []RoutingRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]RoutingRecord, len(st.routings))
	copy(out, st.routings)
	return out
}

// Scalings returns a copy of the scaling records in recording order.
func (st *SimulationTrace) Scalings() []ScalingRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]ScalingRecord, len(st.scalings))
	copy(out, st.scalings)
	return out
}
