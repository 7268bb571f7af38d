package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRoutings      int // recorded routings; excludes DroppedRoutings
	FailedRoutings     int
	DroppedRoutings    int
	ScaleUps           int
	ScaleDowns         int
	UniqueTargets      int
	TargetDistribution map[string]int // server ID → count of requests dispatched
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	routings := st.Routings()
	summary.TotalRoutings = len(routings)
	for _, r := range routings {
		if r.Outcome != OutcomeDispatched {
			summary.FailedRoutings++
			continue
		}
		summary.TargetDistribution[r.ChosenServer]++
	}
	summary.UniqueTargets = len(summary.TargetDistribution)
	summary.DroppedRoutings = st.DroppedRoutings()

	for _, s := range st.Scalings() {
		switch s.Action {
		case ActionScaleUp:
			summary.ScaleUps++
		case ActionScaleDown:
			summary.ScaleDowns++
		}
	}

	return summary
}
