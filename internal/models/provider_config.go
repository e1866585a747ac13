package models

import "time"

// ProviderKind selects the client adapter used to talk to a provider.
type ProviderKind string

const (
	// KindOpenAI covers the OpenAI API and any OpenAI-compatible server
	// (Ollama, MLX, llama.cpp) via a custom base URL.
	KindOpenAI    ProviderKind = "openai"
	KindAnthropic ProviderKind = "anthropic"
	KindGemini    ProviderKind = "gemini"
)

// ProviderConfig holds per-provider configuration. Immutable after load.
type ProviderConfig struct {
	Kind           ProviderKind      `yaml:"kind" json:"kind"`
	APIKey         string            `yaml:"api_key" json:"api_key,omitzero"`
	BaseURL        string            `yaml:"base_url" json:"base_url,omitzero"`
	Model          string            `yaml:"model" json:"model"`
	PriorityTier   int               `yaml:"priority_tier" json:"priority_tier,omitzero"`
	TimeoutMs      int               `yaml:"timeout_ms" json:"timeout_ms,omitzero"`
	Local          bool              `yaml:"local" json:"local,omitzero"` // local inference, eligible under thermal CRITICAL
	HealthEndpoint string            `yaml:"health_endpoint" json:"health_endpoint,omitzero"`
	Headers        map[string]string `yaml:"headers" json:"headers,omitzero"`

	// Cost hints, USD per million tokens.
	CostPer1MInputTokens  float64 `yaml:"cost_per_1m_input_tokens" json:"cost_per_1m_input_tokens,omitzero"`
	CostPer1MOutputTokens float64 `yaml:"cost_per_1m_output_tokens" json:"cost_per_1m_output_tokens,omitzero"`

	// Rate limiting.
	RateLimitRpm int `yaml:"rate_limit_rpm" json:"rate_limit_rpm,omitzero"`
	DailyLimit   int `yaml:"daily_limit" json:"daily_limit,omitzero"`
	MaxWaitMs    int `yaml:"max_wait_ms" json:"max_wait_ms,omitzero"`
}

// Timeout returns the per-attempt timeout, falling back to a conservative
// default when unset.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutMs > 0 {
		return time.Duration(p.TimeoutMs) * time.Millisecond
	}
	return 60 * time.Second
}

// MaxWait returns the bounded wait for rate limiter acquisition.
func (p ProviderConfig) MaxWait() time.Duration {
	if p.MaxWaitMs > 0 {
		return time.Duration(p.MaxWaitMs) * time.Millisecond
	}
	return 250 * time.Millisecond
}

// ProviderOverride carries the request-scoped overrides a caller may apply
// to a configured provider. Only connection details are overridable; chain
// membership, limits, and cost hints always come from the loaded config.
type ProviderOverride struct {
	APIKey    string            `json:"api_key,omitzero"`
	BaseURL   string            `json:"base_url,omitzero"`
	TimeoutMs int               `json:"timeout_ms,omitzero"`
	Headers   map[string]string `json:"headers,omitzero"`
}

// WithOverride returns a copy of the config with non-empty override values
// applied. Header overrides merge over configured headers.
func (p ProviderConfig) WithOverride(o ProviderOverride) ProviderConfig {
	merged := p
	if o.APIKey != "" {
		merged.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		merged.BaseURL = o.BaseURL
	}
	if o.TimeoutMs > 0 {
		merged.TimeoutMs = o.TimeoutMs
	}
	if len(o.Headers) > 0 {
		headers := make(map[string]string, len(p.Headers)+len(o.Headers))
		for k, v := range p.Headers {
			headers[k] = v
		}
		for k, v := range o.Headers {
			headers[k] = v
		}
		merged.Headers = headers
	}
	return merged
}

// EstimateCost converts token usage into USD using the configured hints.
func (p ProviderConfig) EstimateCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*p.CostPer1MInputTokens/1e6 +
		float64(tokensOut)*p.CostPer1MOutputTokens/1e6
}
