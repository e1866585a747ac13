package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/health"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"
	"github.com/milhy545/adaptive-router/internal/services/providers"
	"github.com/milhy545/adaptive-router/internal/services/registry"
	"github.com/milhy545/adaptive-router/internal/services/router"
	"github.com/milhy545/adaptive-router/internal/services/thermal"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	name string
	err  error
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Generate(_ context.Context, _ providers.GenerateRequest) (*providers.GenerateResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &providers.GenerateResponse{Content: "answer from " + p.name, TokensInput: 8, TokensOutput: 3}, nil
}

type okProber struct{}

func (okProber) Probe(_ string, _ models.ProviderConfig) models.ProviderHealth {
	return models.ProviderHealth{Status: models.HealthHealthy}
}

func newTestApp(t *testing.T, failures map[string]error) *fiber.App {
	t.Helper()

	store, err := kvstore.New(models.StoreConfig{Type: models.StoreFile, Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{
		Router: models.RouterConfig{FallbackChain: []string{"local", "cloud"}},
		Providers: map[string]models.ProviderConfig{
			"local": {Kind: models.KindOpenAI, BaseURL: "http://localhost:11434/v1", Model: "llama3", Local: true},
			"cloud": {Kind: models.KindOpenAI, APIKey: "sk-test", Model: "gpt-4o-mini"},
		},
	}

	reg, err := registry.New(cfg, store)
	require.NoError(t, err)
	for id, entry := range reg.All() {
		entry.Provider = &scriptedProvider{name: id, err: failures[id]}
	}

	monitor := health.NewMonitor(models.HealthConfig{TTLMs: 60_000})
	monitor.SetProber(okProber{})

	rt := router.New(reg, monitor, thermal.StaticAdvisor{State: models.ThermalNormal}, nil)

	app := fiber.New()
	routeHandler := NewRouteHandler(rt)
	statusHandler := NewStatusHandler(rt)
	healthHandler := NewHealthHandler(store, nil)

	app.Get("/health", healthHandler.HealthCheck)
	v1 := app.Group("/v1")
	v1.Post("/route", routeHandler.Route)
	v1.Get("/providers/status", statusHandler.ProviderStatus)
	v1.Post("/providers/:provider/circuit/reset", statusHandler.ResetCircuit)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) models.RouterResult {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var result models.RouterResult
	require.NoError(t, json.Unmarshal(body, &result))
	return result
}

func TestRouteEndpointSuccess(t *testing.T) {
	app := newTestApp(t, nil)

	resp := postJSON(t, app, "/v1/route", fiber.Map{"prompt": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "local", result.ProviderUsed)
	assert.Equal(t, "answer from local", result.Content)
	require.Len(t, result.Attempts, 1)
}

func TestRouteEndpointFallsBack(t *testing.T) {
	app := newTestApp(t, map[string]error{
		"local": models.NewProviderError("local", "model not loaded", nil),
	})

	resp := postJSON(t, app, "/v1/route", fiber.Map{"prompt": "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	assert.True(t, result.Success)
	assert.Equal(t, "cloud", result.ProviderUsed)
	require.Len(t, result.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, result.Attempts[0].Outcome)
}

func TestRouteEndpointExhausted(t *testing.T) {
	app := newTestApp(t, map[string]error{
		"local": models.NewProviderError("local", "down", nil),
		"cloud": models.NewProviderError("cloud", "down", nil),
	})

	resp := postJSON(t, app, "/v1/route", fiber.Map{"prompt": "hello"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	result := decodeResult(t, resp)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, models.CodeAllProvidersExhausted, result.Error.Code)
	assert.Len(t, result.Attempts, 2)
}

func TestRouteEndpointRejectsEmptyPrompt(t *testing.T) {
	app := newTestApp(t, nil)

	resp := postJSON(t, app, "/v1/route", fiber.Map{"prompt": "   "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProviderStatusEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers/status", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload struct {
		Providers map[string]models.ProviderSnapshot `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.Contains(t, payload.Providers, "local")
	assert.Equal(t, "Closed", payload.Providers["local"].CircuitState)
}

func TestCircuitResetEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	resp := postJSON(t, app, "/v1/providers/cloud/circuit/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, app, "/v1/providers/unknown/circuit/reset", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
