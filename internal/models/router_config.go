package models

import "time"

// CircuitBreakerConfig holds circuit breaker thresholds shared by every
// per-provider breaker instance.
type CircuitBreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold,omitzero"` // failures within the window before opening
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold,omitzero"` // consecutive half-open successes to close
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls,omitzero"`
	RecoveryTimeoutMs int `yaml:"recovery_timeout_ms" json:"recovery_timeout_ms,omitzero"`
	WindowMs          int `yaml:"window_ms" json:"window_ms,omitzero"` // rolling failure window
}

func (c CircuitBreakerConfig) RecoveryTimeout() time.Duration {
	if c.RecoveryTimeoutMs > 0 {
		return time.Duration(c.RecoveryTimeoutMs) * time.Millisecond
	}
	return 30 * time.Second
}

func (c CircuitBreakerConfig) Window() time.Duration {
	if c.WindowMs > 0 {
		return time.Duration(c.WindowMs) * time.Millisecond
	}
	return time.Minute
}

// HealthConfig controls the health monitor's probe caching.
type HealthConfig struct {
	TTLMs          int `yaml:"ttl_ms" json:"ttl_ms,omitzero"`
	ProbeTimeoutMs int `yaml:"probe_timeout_ms" json:"probe_timeout_ms,omitzero"`
}

func (c HealthConfig) TTL() time.Duration {
	if c.TTLMs > 0 {
		return time.Duration(c.TTLMs) * time.Millisecond
	}
	return 30 * time.Second
}

func (c HealthConfig) ProbeTimeout() time.Duration {
	if c.ProbeTimeoutMs > 0 {
		return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
	}
	return 2 * time.Second
}

// RouterConfig holds the fallback chain and the shared breaker/health knobs.
type RouterConfig struct {
	FallbackChain  []string             `yaml:"fallback_chain" json:"fallback_chain"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Health         HealthConfig         `yaml:"health" json:"health"`

	// DailyResetHourUTC is the boundary at which daily rate limiter budgets
	// reset (0 = midnight UTC).
	DailyResetHourUTC int `yaml:"daily_reset_hour_utc" json:"daily_reset_hour_utc,omitzero"`
}

// StoreType selects the durable key-value backend for rate limiter state.
type StoreType string

const (
	StoreFile  StoreType = "file"
	StoreRedis StoreType = "redis"
)

// StoreConfig configures rate limiter persistence.
type StoreConfig struct {
	Type StoreType `yaml:"type" json:"type"`
	// Dir is the directory for the file store (one JSON record per provider,
	// written via temp file + rename).
	Dir string `yaml:"dir" json:"dir,omitzero"`

	RedisAddr     string `yaml:"redis_addr" json:"redis_addr,omitzero"`
	RedisPassword string `yaml:"redis_password" json:"-"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db,omitzero"`
}
