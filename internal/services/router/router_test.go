package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/circuitbreaker"
	"github.com/milhy545/adaptive-router/internal/services/health"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"
	"github.com/milhy545/adaptive-router/internal/services/providers"
	"github.com/milhy545/adaptive-router/internal/services/registry"
	"github.com/milhy545/adaptive-router/internal/services/thermal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider scripts one provider's behavior per test.
type fakeProvider struct {
	name  string
	calls int32

	resp  *providers.GenerateResponse
	err   error
	delay time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, _ providers.GenerateRequest) (*providers.GenerateResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, models.NewTimeoutError(f.name, ctx.Err())
			}
			return nil, models.NewCancelledError(ctx.Err())
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &providers.GenerateResponse{Content: "ok from " + f.name, TokensInput: 10, TokensOutput: 5}, nil
}

func (f *fakeProvider) callCount() int { return int(atomic.LoadInt32(&f.calls)) }

// healthyProber reports every provider healthy unless overridden.
type healthyProber struct {
	statuses map[string]models.HealthStatus
}

func (p *healthyProber) Probe(providerID string, _ models.ProviderConfig) models.ProviderHealth {
	status := models.HealthHealthy
	if s, ok := p.statuses[providerID]; ok {
		status = s
	}
	return models.ProviderHealth{Status: status, CheckedAt: time.Now()}
}

type fixture struct {
	router *Router
	reg    *registry.Registry
	fakes  map[string]*fakeProvider
}

// newFixture builds a router over fake providers. providerCfgs keys double
// as the fallback chain order via the chain argument.
func newFixture(t *testing.T, chain []string, providerCfgs map[string]models.ProviderConfig, opts ...func(*fixture)) *fixture {
	t.Helper()

	store, err := kvstore.New(models.StoreConfig{Type: models.StoreFile, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Router: models.RouterConfig{
			FallbackChain:  chain,
			CircuitBreaker: models.CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, HalfOpenMaxCalls: 1},
		},
		Providers: providerCfgs,
	}

	reg, err := registry.New(cfg, store)
	require.NoError(t, err)

	f := &fixture{reg: reg, fakes: make(map[string]*fakeProvider)}
	for id, entry := range reg.All() {
		fake := &fakeProvider{name: id}
		entry.Provider = fake
		f.fakes[id] = fake
	}

	monitor := health.NewMonitor(models.HealthConfig{TTLMs: 60_000})
	monitor.SetProber(&healthyProber{})

	f.router = New(reg, monitor, thermal.StaticAdvisor{State: models.ThermalNormal}, nil)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func withAdvisor(a thermal.Advisor) func(*fixture) {
	return func(f *fixture) { f.router.thermal = a }
}

func withProber(p health.Prober) func(*fixture) {
	return func(f *fixture) { f.router.health.SetProber(p) }
}

func cloudProvider() models.ProviderConfig {
	return models.ProviderConfig{Kind: models.KindOpenAI, APIKey: "sk-test", Model: "cloud-model"}
}

func localProvider() models.ProviderConfig {
	return models.ProviderConfig{Kind: models.KindOpenAI, BaseURL: "http://localhost:11434/v1", Model: "local-model", Local: true}
}

func TestRouteSucceedsOnFirstCandidate(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "a", result.ProviderUsed)
	assert.Equal(t, "ok from a", result.Content)
	assert.Equal(t, 10, result.TokensInput)
	assert.Equal(t, 5, result.TokensOutput)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, models.AttemptSuccess, result.Attempts[0].Outcome)
	assert.Zero(t, f.fakes["b"].callCount(), "fallback must not run after a success")
}

func TestRouteSkipsOpenCircuit(t *testing.T) {
	f := newFixture(t, []string{"a", "b", "c"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
		"c": cloudProvider(),
	})

	entryA, _ := f.reg.Get("a")
	entryA.Breaker.RecordFailure()
	require.Equal(t, circuitbreaker.Open, entryA.Breaker.GetState())

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, "a", result.Attempts[0].Provider)
	assert.Equal(t, models.AttemptSkipped, result.Attempts[0].Outcome)
	assert.Zero(t, f.fakes["a"].callCount(), "open circuit must prevent the provider call")
}

func TestRouteCriticalThermalRestrictsToLocal(t *testing.T) {
	f := newFixture(t, []string{"cloud1", "cloud2", "local1"}, map[string]models.ProviderConfig{
		"cloud1": cloudProvider(),
		"cloud2": cloudProvider(),
		"local1": localProvider(),
	}, withAdvisor(thermal.StaticAdvisor{State: models.ThermalCritical, Temperature: 91}))

	f.fakes["local1"].err = models.NewProviderError("local1", "model not loaded", nil)

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeExhausted, result.Error.Type)
	require.Len(t, result.Attempts, 1)
	assert.Equal(t, "local1", result.Attempts[0].Provider)
	assert.Zero(t, f.fakes["cloud1"].callCount(), "cloud providers are excluded under CRITICAL")
	assert.Zero(t, f.fakes["cloud2"].callCount())
}

func TestRouteCriticalThermalWithoutLocalFailsFast(t *testing.T) {
	f := newFixture(t, []string{"cloud1"}, map[string]models.ProviderConfig{
		"cloud1": cloudProvider(),
	}, withAdvisor(thermal.StaticAdvisor{State: models.ThermalCritical, Temperature: 93}))

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeThermal, result.Error.Type)
	assert.Empty(t, result.Attempts)
	assert.Zero(t, f.fakes["cloud1"].callCount())
}

func TestRouteElevatedThermalPrefersLocal(t *testing.T) {
	f := newFixture(t, []string{"cloud", "local"}, map[string]models.ProviderConfig{
		"cloud": cloudProvider(),
		"local": localProvider(),
	}, withAdvisor(thermal.StaticAdvisor{State: models.ThermalElevated, Temperature: 78}))

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "local", result.ProviderUsed, "ELEVATED pushes remote providers later")
	assert.Zero(t, f.fakes["cloud"].callCount())
}

func TestRouteRequestThermalOverride(t *testing.T) {
	f := newFixture(t, []string{"cloud", "local"}, map[string]models.ProviderConfig{
		"cloud": cloudProvider(),
		"local": localProvider(),
	})

	result := f.router.Route(context.Background(), models.RequestContext{
		Prompt:       "hi",
		RequestID:    "r1",
		ThermalState: models.ThermalCritical,
	})

	require.True(t, result.Success)
	assert.Equal(t, "local", result.ProviderUsed)
	assert.Zero(t, f.fakes["cloud"].callCount())
}

func TestRoutePreferredProviderGoesFirst(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})

	result := f.router.Route(context.Background(), models.RequestContext{
		Prompt:            "hi",
		RequestID:         "r1",
		PreferredProvider: "b",
	})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)
	assert.Zero(t, f.fakes["a"].callCount())
}

func TestRouteDegradedPreferredKeepsOrder(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	}, withProber(&healthyProber{statuses: map[string]models.HealthStatus{"b": models.HealthDegraded}}))

	result := f.router.Route(context.Background(), models.RequestContext{
		Prompt:            "hi",
		RequestID:         "r1",
		PreferredProvider: "b",
	})

	require.True(t, result.Success)
	assert.Equal(t, "a", result.ProviderUsed, "a degraded preference does not jump the queue")
}

func TestRouteUnavailableProviderSkipped(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	}, withProber(&healthyProber{statuses: map[string]models.HealthStatus{"a": models.HealthUnavailable}}))

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, models.AttemptSkipped, result.Attempts[0].Outcome)
	assert.Zero(t, f.fakes["a"].callCount())
}

func TestRouteRateLimitedFallsThrough(t *testing.T) {
	cfgA := cloudProvider()
	cfgA.DailyLimit = 1
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cfgA,
		"b": cloudProvider(),
	})

	entryA, _ := f.reg.Get("a")
	require.NoError(t, entryA.Limiter.Acquire(context.Background()))

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, models.AttemptRateLimited, result.Attempts[0].Outcome)
	assert.Zero(t, f.fakes["a"].callCount())

	// Rate limiting is not a provider failure.
	assert.Equal(t, circuitbreaker.Closed, entryA.Breaker.GetState())
	assert.Zero(t, entryA.Breaker.Snapshot().FailureCount)
}

func TestRouteTimeoutCountsAsFailure(t *testing.T) {
	cfgA := cloudProvider()
	cfgA.TimeoutMs = 30
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cfgA,
		"b": cloudProvider(),
	})
	f.fakes["a"].delay = 500 * time.Millisecond

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, result.Attempts[0].Outcome)

	entryA, _ := f.reg.Get("a")
	assert.Equal(t, 1, entryA.Breaker.Snapshot().FailureCount, "a timeout counts toward the breaker")
}

func TestRouteClientErrorDoesNotCountAsFailure(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})
	f.fakes["a"].err = models.ClassifyProviderStatus("a", 400, nil)

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.True(t, result.Success)
	assert.Equal(t, "b", result.ProviderUsed)

	entryA, _ := f.reg.Get("a")
	assert.Zero(t, entryA.Breaker.Snapshot().FailureCount, "client-caused errors never open the circuit")
}

func TestRouteCancellationStopsRouting(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})
	f.fakes["a"].delay = 5 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := f.router.Route(ctx, models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeCancelled, result.Error.Type)
	require.NotEmpty(t, result.Attempts)
	assert.Equal(t, models.AttemptCancelled, result.Attempts[len(result.Attempts)-1].Outcome)
	assert.Zero(t, f.fakes["b"].callCount(), "cancellation must stop the fallback chain")

	// Cancelled attempts count in neither breaker nor limiter accounting.
	entryA, _ := f.reg.Get("a")
	assert.Zero(t, entryA.Breaker.Snapshot().FailureCount)
}

func TestRouteAllProvidersExhausted(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})
	f.fakes["a"].err = models.NewProviderError("a", "boom", nil)
	f.fakes["b"].err = models.NewProviderError("b", "boom", nil)

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})

	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.ErrorTypeExhausted, result.Error.Type)
	require.Len(t, result.Attempts, 2)
	for _, a := range result.Attempts {
		assert.Equal(t, models.AttemptFailed, a.Outcome)
		assert.NotEmpty(t, a.Error)
	}
}

func TestRouteDeterministicOrdering(t *testing.T) {
	cfgs := map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": localProvider(),
		"c": cloudProvider(),
	}
	f := newFixture(t, []string{"a", "b", "c"}, cfgs,
		withAdvisor(thermal.StaticAdvisor{State: models.ThermalElevated}))
	for _, fake := range f.fakes {
		fake.err = models.NewProviderError(fake.name, "down", nil)
	}

	first := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})
	second := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r2"})

	require.Len(t, first.Attempts, 3)
	require.Len(t, second.Attempts, 3)
	for i := range first.Attempts {
		assert.Equal(t, first.Attempts[i].Provider, second.Attempts[i].Provider,
			"identical state snapshots must yield identical candidate order")
	}
	assert.Equal(t, "b", first.Attempts[0].Provider, "local provider ordered first under ELEVATED")
}

func TestRouteCheapCostPreference(t *testing.T) {
	expensive := cloudProvider()
	expensive.CostPer1MInputTokens = 10
	cheap := cloudProvider()
	cheap.CostPer1MInputTokens = 1

	f := newFixture(t, []string{"pricey", "budget"}, map[string]models.ProviderConfig{
		"pricey": expensive,
		"budget": cheap,
	})

	result := f.router.Route(context.Background(), models.RequestContext{
		Prompt:         "hi",
		RequestID:      "r1",
		CostPreference: "cheap",
	})

	require.True(t, result.Success)
	assert.Equal(t, "budget", result.ProviderUsed)
}

func TestStatusSnapshotIdempotent(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})

	first := f.router.StatusSnapshot()
	second := f.router.StatusSnapshot()
	assert.Equal(t, first, second)

	require.Contains(t, first, "a")
	assert.Equal(t, "Closed", first["a"].CircuitState)
}

func TestResetCircuit(t *testing.T) {
	f := newFixture(t, []string{"a"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
	})

	entryA, _ := f.reg.Get("a")
	entryA.Breaker.RecordFailure()
	require.Equal(t, circuitbreaker.Open, entryA.Breaker.GetState())

	require.NoError(t, f.router.ResetCircuit("a"))
	assert.Equal(t, circuitbreaker.Closed, entryA.Breaker.GetState())

	assert.Error(t, f.router.ResetCircuit("missing"))
}

func TestRouteEachAttemptMutatesOnlyItsProvider(t *testing.T) {
	f := newFixture(t, []string{"a", "b"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
		"b": cloudProvider(),
	})
	f.fakes["a"].err = models.NewProviderError("a", "down", nil)

	result := f.router.Route(context.Background(), models.RequestContext{Prompt: "hi", RequestID: "r1"})
	require.True(t, result.Success)

	entryA, _ := f.reg.Get("a")
	entryB, _ := f.reg.Get("b")
	assert.Equal(t, 1, entryA.Breaker.Snapshot().FailureCount)
	assert.Zero(t, entryB.Breaker.Snapshot().FailureCount)
}

func TestRouteProviderOverrideRedirectsAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "cloud-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "from override"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`))
	}))
	defer srv.Close()

	f := newFixture(t, []string{"a"}, map[string]models.ProviderConfig{
		"a": cloudProvider(),
	})

	result := f.router.Route(context.Background(), models.RequestContext{
		Prompt:    "hi",
		RequestID: "r1",
		ProviderOverrides: map[string]models.ProviderOverride{
			"a": {BaseURL: srv.URL},
		},
	})

	require.True(t, result.Success)
	assert.Equal(t, "from override", result.Content)
	assert.Zero(t, f.fakes["a"].callCount(), "configured client must not be used when overridden")
}
