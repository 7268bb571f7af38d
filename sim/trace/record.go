// Package trace provides decision-trace recording for routing and scaling analysis.
// It has no dependencies on sim/ and stores plain data types.
package trace

import "time"

// RoutingOutcome classifies a single routing decision.
type RoutingOutcome string

const (
	// OutcomeDispatched means a server was selected and work was dispatched.
	OutcomeDispatched RoutingOutcome = "dispatched"
	// OutcomeNoServers means the registry was empty.
	OutcomeNoServers RoutingOutcome = "no-servers"
	// OutcomeNoCapacity means no registered server could accept.
	OutcomeNoCapacity RoutingOutcome = "no-capacity"
)

// RoutingRecord captures a single routing decision.
type RoutingRecord struct {
	RequestID    string
	Time         time.Time
	ChosenServer string // empty unless Outcome is OutcomeDispatched
	Algo         string
	Outcome      RoutingOutcome
}

// ScalingAction names an autoscaler change to the registry.
type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "scale-up"
	ActionScaleDown ScalingAction = "scale-down"
)

// ScalingRecord captures one registry change made by the autoscaler.
type ScalingRecord struct {
	Time         time.Time
	Action       ScalingAction
	ServerID     string
	ServersAfter int
	Utilization  float64 // router utilization that triggered the action, percent
}
