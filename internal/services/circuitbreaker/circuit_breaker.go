package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

type Config struct {
	FailureThreshold int           // qualifying failures within Window before opening
	SuccessThreshold int           // consecutive half-open successes to close
	HalfOpenMaxCalls int           // probe-call budget while half-open
	RecoveryTimeout  time.Duration // open duration before probing resumes
	Window           time.Duration // rolling window for failure counting
}

// ConfigFromModel applies defaults for unset fields.
func ConfigFromModel(m models.CircuitBreakerConfig) Config {
	cfg := Config{
		FailureThreshold: m.FailureThreshold,
		SuccessThreshold: m.SuccessThreshold,
		HalfOpenMaxCalls: m.HalfOpenMaxCalls,
		RecoveryTimeout:  m.RecoveryTimeout(),
		Window:           m.Window(),
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = cfg.SuccessThreshold
	}
	return cfg
}

// Snapshot is a point-in-time copy of breaker state for diagnostics.
type Snapshot struct {
	State          string    `json:"state"`
	FailureCount   int       `json:"failure_count"`
	LastFailureAt  time.Time `json:"last_failure_at,omitzero"`
	HalfOpenProbes int       `json:"half_open_probes,omitzero"`
}

// CircuitBreaker tracks failures for exactly one provider. One instance per
// provider id lives for the process lifetime; all concurrent route calls
// share it. State mutation happens under a per-instance mutex; the provider
// call itself is never made under the lock.
type CircuitBreaker struct {
	mu sync.Mutex

	providerID string
	config     Config
	now        func() time.Time

	state           State
	failureCount    int
	successCount    int
	halfOpenProbes  int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// New creates a breaker for one provider.
func New(providerID string, config Config) *CircuitBreaker {
	return &CircuitBreaker{
		providerID:      providerID,
		config:          config,
		now:             time.Now,
		state:           Closed,
		lastStateChange: time.Now(),
	}
}

// SetClock overrides the time source. Test hook.
func (cb *CircuitBreaker) SetClock(now func() time.Time) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.now = now
}

// CanExecute reports whether a call to this provider may proceed. In the
// Open state, elapse of the recovery timeout transitions to HalfOpen as a
// side effect and admits the first probe.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if cb.now().Sub(cb.lastFailureTime) > cb.config.RecoveryTimeout {
			cb.transitionLocked(HalfOpen)
			cb.halfOpenProbes = 1
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenProbes < cb.config.HalfOpenMaxCalls {
			cb.halfOpenProbes++
			return true
		}
		// Probes that never reported back (e.g. cancelled attempts) would
		// otherwise exhaust the budget forever.
		if cb.now().Sub(cb.lastStateChange) > cb.config.RecoveryTimeout {
			cb.halfOpenProbes = 1
			cb.successCount = 0
			cb.lastStateChange = cb.now()
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets failure tracking and, while half-open, closes the
// circuit after the configured run of consecutive successes.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount = 0

	if cb.state == HalfOpen {
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionLocked(Closed)
			fiberlog.Infof("CircuitBreaker: %s transitioned to Closed state after recovery", cb.providerID)
			return
		}
		fiberlog.Infof("CircuitBreaker: %s recorded success in HalfOpen state (%d/%d)",
			cb.providerID, cb.successCount, cb.config.SuccessThreshold)
		return
	}

	fiberlog.Debugf("CircuitBreaker: %s recorded success", cb.providerID)
}

// RecordFailure counts one qualifying provider-level failure. Client-caused
// errors must be filtered out by the caller before reaching here.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	// Failures outside the rolling window no longer count.
	if !cb.lastFailureTime.IsZero() && now.Sub(cb.lastFailureTime) > cb.config.Window {
		cb.failureCount = 0
	}

	cb.failureCount++
	cb.lastFailureTime = now

	switch {
	case cb.state == HalfOpen:
		cb.transitionLocked(Open)
		fiberlog.Warnf("CircuitBreaker: %s reopened after failure during probing", cb.providerID)
	case cb.state == Closed && cb.failureCount >= cb.config.FailureThreshold:
		cb.transitionLocked(Open)
		fiberlog.Warnf("CircuitBreaker: %s transitioned to Open state after %d failures", cb.providerID, cb.failureCount)
	default:
		fiberlog.Debugf("CircuitBreaker: %s recorded failure (%d/%d)", cb.providerID, cb.failureCount, cb.config.FailureThreshold)
	}
}

// GetState returns the current state without side effects.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed. Administrative recovery operation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionLocked(Closed)
	cb.lastFailureTime = time.Time{}
	fiberlog.Infof("CircuitBreaker: reset circuit breaker for provider %s", cb.providerID)
}

// Snapshot returns a copy of the current state for diagnostics.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		State:          cb.state.String(),
		FailureCount:   cb.failureCount,
		LastFailureAt:  cb.lastFailureTime,
		HalfOpenProbes: cb.halfOpenProbes,
	}
}

// transitionLocked moves to newState and resets the counters that belong to
// the state being left. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionLocked(newState State) {
	if cb.state == newState {
		return
	}

	fiberlog.Debugf("CircuitBreaker: %s %s -> %s", cb.providerID, cb.state, newState)
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.successCount = 0
	if newState == HalfOpen {
		cb.halfOpenProbes = 0
	}
	if newState == Closed {
		cb.failureCount = 0
		cb.halfOpenProbes = 0
	}
}
