package models

import "time"

// RequestContext carries everything the router needs for one route call.
// Per-call; discarded after the RouterResult is returned.
type RequestContext struct {
	Prompt       string       `json:"prompt"`
	System       string       `json:"system,omitzero"`
	Attachments  []Attachment `json:"attachments,omitzero"`
	MaxTokens    int          `json:"max_tokens,omitzero"`
	SessionID    string       `json:"session_id,omitzero"`
	RequestID    string       `json:"request_id,omitzero"`
	ThermalState ThermalState `json:"thermal_state,omitzero"` // overrides the advisor when set

	// CostPreference biases ordering inside a priority tier: "cheap" prefers
	// lower cost hints, anything else keeps chain order.
	CostPreference string `json:"cost_preference,omitzero"`

	// PreferredProvider, when set and healthy, is attempted first.
	PreferredProvider string `json:"preferred_provider,omitzero"`

	// ProviderOverrides merges request-scoped connection overrides over the
	// loaded config, keyed by provider id.
	ProviderOverrides map[string]ProviderOverride `json:"provider_overrides,omitzero"`
}

// Attachment is an opaque payload forwarded to the provider adapter.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// AttemptOutcome classifies a single provider attempt.
type AttemptOutcome string

const (
	AttemptSuccess     AttemptOutcome = "success"
	AttemptFailed      AttemptOutcome = "failed"
	AttemptRateLimited AttemptOutcome = "rate_limited"
	AttemptCancelled   AttemptOutcome = "cancelled"
	AttemptSkipped     AttemptOutcome = "skipped"
)

// AttemptRecord documents one provider attempt inside a route call.
type AttemptRecord struct {
	Provider  string         `json:"provider"`
	Model     string         `json:"model,omitzero"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitzero"`
}

// RouterResult is the structured result of a route call. The router never
// returns a bare error for ordinary provider failure: every attempted
// provider and its specific error is enumerated here.
type RouterResult struct {
	Success       bool            `json:"success"`
	Content       string          `json:"content,omitzero"`
	ProviderUsed  string          `json:"provider_used,omitzero"`
	ModelUsed     string          `json:"model_used,omitzero"`
	TokensInput   int             `json:"tokens_input,omitzero"`
	TokensOutput  int             `json:"tokens_output,omitzero"`
	TotalCost     float64         `json:"total_cost"`
	TotalDuration time.Duration   `json:"total_duration"`
	Attempts      []AttemptRecord `json:"attempts"`
	Error         *AppError       `json:"error,omitzero"`
}

// ProviderSnapshot is one provider's entry in the diagnostics snapshot.
type ProviderSnapshot struct {
	CircuitState   string       `json:"circuit_state"`
	RateRemaining  float64      `json:"rate_remaining"`
	DailyRemaining int          `json:"daily_remaining"`
	HealthStatus   HealthStatus `json:"health_status"`
}
