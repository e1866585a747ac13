package router

import (
	"context"
	"errors"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/health"
	"github.com/milhy545/adaptive-router/internal/services/providers"
	"github.com/milhy545/adaptive-router/internal/services/registry"
	"github.com/milhy545/adaptive-router/internal/services/thermal"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// UsageRecorder receives one record per attempt. Implementations must not
// block; the router calls it inline on the request path.
type UsageRecorder interface {
	Record(params models.RecordUsageParams)
}

// Router executes sequential fallback attempts over the configured provider
// chain. It owns no provider state itself; breakers and limiters live in the
// registry and are shared across concurrent route calls.
type Router struct {
	registry *registry.Registry
	health   *health.Monitor
	thermal  thermal.Advisor
	usage    UsageRecorder

	now func() time.Time
}

// New wires the router to its collaborators. usage may be nil when
// persistence is disabled.
func New(reg *registry.Registry, monitor *health.Monitor, advisor thermal.Advisor, usage UsageRecorder) *Router {
	return &Router{
		registry: reg,
		health:   monitor,
		thermal:  advisor,
		usage:    usage,
		now:      time.Now,
	}
}

// Route attempts candidates strictly in order until one succeeds or all are
// exhausted. It never returns a nil result: every outcome, including hard
// thermal stops and cancellation, arrives as a structured RouterResult with
// the full attempt history.
func (r *Router) Route(ctx context.Context, req models.RequestContext) *models.RouterResult {
	started := r.now()
	result := &models.RouterResult{Attempts: []models.AttemptRecord{}}

	reading := r.thermalReading(req)
	fiberlog.Infof("[%s] Routing request (thermal=%s, preferred=%s)", req.RequestID, reading.State, req.PreferredProvider)

	candidates, unavailable, thermalErr := r.buildCandidates(ctx, req, reading)
	for _, entry := range unavailable {
		fiberlog.Debugf("[%s] Provider %s is UNAVAILABLE, skipping", req.RequestID, entry.ID)
		r.recordAttempt(result, req, attemptInfo{
			provider: entry.ID,
			model:    entry.Config.Model,
			start:    r.now(),
			outcome:  models.AttemptSkipped,
			errText:  "provider unavailable",
		})
	}
	if thermalErr != nil {
		result.Error = thermalErr
		result.TotalDuration = r.now().Sub(started)
		return result
	}

	genReq := toGenerateRequest(req)

	for _, c := range candidates {
		entry := c.entry

		if err := ctx.Err(); err != nil {
			result.Error = models.NewCancelledError(err)
			result.TotalDuration = r.now().Sub(started)
			return result
		}

		cfg := entry.Config
		provider := entry.Provider
		if ov, ok := req.ProviderOverrides[entry.ID]; ok {
			cfg = cfg.WithOverride(ov)
			overridden, buildErr := providers.New(entry.ID, cfg)
			if buildErr != nil {
				fiberlog.Warnf("[%s] Provider %s override rejected: %v", req.RequestID, entry.ID, buildErr)
				r.recordAttempt(result, req, attemptInfo{
					provider: entry.ID,
					model:    cfg.Model,
					start:    r.now(),
					outcome:  models.AttemptFailed,
					errText:  "invalid provider override",
				})
				continue
			}
			provider = overridden
		}

		if !entry.Breaker.CanExecute() {
			fiberlog.Warnf("[%s] Circuit breaker is OPEN for provider %s, skipping", req.RequestID, entry.ID)
			r.recordAttempt(result, req, attemptInfo{
				provider: entry.ID,
				model:    cfg.Model,
				start:    r.now(),
				outcome:  models.AttemptSkipped,
				errText:  "circuit breaker open",
			})
			continue
		}

		acquireStart := r.now()
		if err := entry.Limiter.Acquire(ctx); err != nil {
			if models.IsCancellation(err) {
				r.recordAttempt(result, req, attemptInfo{
					provider: entry.ID,
					model:    cfg.Model,
					start:    acquireStart,
					outcome:  models.AttemptCancelled,
					errText:  "cancelled while waiting for rate limiter",
				})
				result.Error = models.SanitizeError(err)
				result.TotalDuration = r.now().Sub(started)
				return result
			}
			fiberlog.Debugf("[%s] Provider %s rate limited, trying next candidate", req.RequestID, entry.ID)
			r.recordAttempt(result, req, attemptInfo{
				provider: entry.ID,
				model:    cfg.Model,
				start:    acquireStart,
				outcome:  models.AttemptRateLimited,
				errText:  models.SanitizeError(err).Message,
			})
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
		attemptStart := r.now()
		resp, err := provider.Generate(attemptCtx, genReq)
		cancel()
		latency := r.now().Sub(attemptStart)

		if err == nil {
			entry.Breaker.RecordSuccess()
			cost := cfg.EstimateCost(resp.TokensInput, resp.TokensOutput)
			fiberlog.Infof("[%s] Provider %s succeeded in %s (tokens in=%d out=%d)",
				req.RequestID, entry.ID, latency.Round(time.Millisecond), resp.TokensInput, resp.TokensOutput)

			r.recordAttempt(result, req, attemptInfo{
				provider:     entry.ID,
				model:        cfg.Model,
				start:        attemptStart,
				latency:      latency,
				outcome:      models.AttemptSuccess,
				tokensInput:  resp.TokensInput,
				tokensOutput: resp.TokensOutput,
				cost:         cost,
			})

			result.Success = true
			result.Content = resp.Content
			result.ProviderUsed = entry.ID
			result.ModelUsed = cfg.Model
			result.TokensInput = resp.TokensInput
			result.TokensOutput = resp.TokensOutput
			result.TotalCost = cost
			result.TotalDuration = r.now().Sub(started)
			return result
		}

		if models.IsCancellation(err) && ctx.Err() != nil {
			// Caller walked away mid-attempt: the consumed token is returned
			// and the breaker never hears about it.
			entry.Limiter.Refund(context.Background())
			fiberlog.Infof("[%s] Request cancelled during attempt on %s", req.RequestID, entry.ID)
			r.recordAttempt(result, req, attemptInfo{
				provider: entry.ID,
				model:    cfg.Model,
				start:    attemptStart,
				latency:  latency,
				outcome:  models.AttemptCancelled,
				errText:  "cancelled",
			})
			result.Error = models.NewCancelledError(err)
			result.TotalDuration = r.now().Sub(started)
			return result
		}

		appErr := models.SanitizeError(err)
		outcome := models.AttemptFailed
		if appErr.Type == models.ErrorTypeRateLimit {
			outcome = models.AttemptRateLimited
		}

		if models.CountsAsProviderFailure(err) {
			entry.Breaker.RecordFailure()
		}

		fiberlog.Warnf("[%s] Provider %s failed (%s): %s, trying next candidate",
			req.RequestID, entry.ID, appErr.Type, appErr.Message)
		r.recordAttempt(result, req, attemptInfo{
			provider: entry.ID,
			model:    cfg.Model,
			start:    attemptStart,
			latency:  latency,
			outcome:  outcome,
			errText:  appErr.Message,
		})
	}

	fiberlog.Errorf("[%s] All %d candidates exhausted", req.RequestID, len(candidates))
	result.Error = models.NewExhaustedError(len(result.Attempts))
	result.TotalDuration = r.now().Sub(started)
	return result
}

// StatusSnapshot reports the current breaker, limiter, and cached health
// state of every provider. Read-only: taking a snapshot never probes, never
// consumes tokens, and never transitions a breaker.
func (r *Router) StatusSnapshot() map[string]models.ProviderSnapshot {
	out := make(map[string]models.ProviderSnapshot)
	for id, entry := range r.registry.All() {
		rate, daily := entry.Limiter.Snapshot()
		snap := models.ProviderSnapshot{
			CircuitState:   entry.Breaker.GetState().String(),
			RateRemaining:  float64(rate),
			DailyRemaining: daily,
		}
		if h, ok := r.health.Cached(id); ok {
			snap.HealthStatus = h.Status
		}
		out[id] = snap
	}
	return out
}

// ResetCircuit force-closes a provider's breaker and clears its cached
// health so the next request probes afresh.
func (r *Router) ResetCircuit(providerID string) error {
	entry, ok := r.registry.Get(providerID)
	if !ok {
		return models.NewValidationError("unknown provider "+providerID, errors.New("provider not registered"))
	}
	entry.Breaker.Reset()
	r.health.Invalidate(providerID)
	return nil
}

func (r *Router) thermalReading(req models.RequestContext) models.ThermalReading {
	if req.ThermalState != models.ThermalUnknown {
		return models.ThermalReading{State: req.ThermalState}
	}
	return r.thermal.Reading()
}

type attemptInfo struct {
	provider     string
	model        string
	start        time.Time
	latency      time.Duration
	outcome      models.AttemptOutcome
	errText      string
	tokensInput  int
	tokensOutput int
	cost         float64
}

func (r *Router) recordAttempt(result *models.RouterResult, req models.RequestContext, info attemptInfo) {
	result.Attempts = append(result.Attempts, models.AttemptRecord{
		Provider:  info.provider,
		Model:     info.model,
		StartedAt: info.start,
		Duration:  info.latency,
		Outcome:   info.outcome,
		Error:     info.errText,
	})

	if r.usage != nil {
		r.usage.Record(models.RecordUsageParams{
			RequestID:    req.RequestID,
			SessionID:    req.SessionID,
			Provider:     info.provider,
			Model:        info.model,
			Outcome:      info.outcome,
			TokensInput:  info.tokensInput,
			TokensOutput: info.tokensOutput,
			Cost:         info.cost,
			Latency:      info.latency,
			ErrorMessage: info.errText,
		})
	}
}

func toGenerateRequest(req models.RequestContext) providers.GenerateRequest {
	out := providers.GenerateRequest{
		Prompt:    req.Prompt,
		System:    req.System,
		MaxTokens: req.MaxTokens,
	}
	for _, a := range req.Attachments {
		out.Attachments = append(out.Attachments, a.Name+":\n"+string(a.Data))
	}
	return out
}
