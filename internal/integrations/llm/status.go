package llm

import "time"

type HealthState string

const (
	HealthHealthy     HealthState = "healthy"
	HealthDegraded    HealthState = "degraded"
	HealthUnavailable HealthState = "unavailable"
)

func healthFromCircuit(state CircuitState) HealthState {
	switch state {
	case CircuitOpen:
		return HealthUnavailable
	case CircuitHalfOpen:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// ProviderHealth is reported for dashboards only; routing decisions read the
// breakers directly.
type ProviderHealth struct {
	Provider            string      `json:"provider"`
	Status              HealthState `json:"status"`
	Circuit             string      `json:"circuit"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastFailureAt       *time.Time  `json:"last_failure_at,omitempty"`
	LastSuccessAt       *time.Time  `json:"last_success_at,omitempty"`
}
