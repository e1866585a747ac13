package models

import "time"

// HealthStatus classifies a provider's probe result.
type HealthStatus string

const (
	HealthHealthy HealthStatus = "HEALTHY"
	// HealthDegraded means the provider timed out, returned 5xx, or had a
	// network error; it stays eligible at lower priority.
	HealthDegraded HealthStatus = "DEGRADED"
	// HealthUnavailable means auth or configuration failure; the provider is
	// not retried until its configuration changes.
	HealthUnavailable HealthStatus = "UNAVAILABLE"
	// HealthError means the probe itself failed unexpectedly; ordered like
	// DEGRADED but logged distinctly.
	HealthError HealthStatus = "ERROR"
)

// ProviderHealth is a cached probe result.
type ProviderHealth struct {
	Status    HealthStatus  `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
}

// Eligible reports whether the provider may appear in a candidate list.
func (h ProviderHealth) Eligible() bool {
	return h.Status != HealthUnavailable
}

// OrderPenalty returns the sort penalty used for candidate ordering.
// ERROR is treated as DEGRADED for ordering purposes.
func (h ProviderHealth) OrderPenalty() int {
	switch h.Status {
	case HealthHealthy:
		return 0
	default:
		return 1
	}
}
