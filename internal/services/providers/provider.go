package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/milhy545/adaptive-router/internal/models"
)

// GenerateRequest is the normalized inference request handed to an adapter.
type GenerateRequest struct {
	Prompt      string
	System      string
	Attachments []string
	MaxTokens   int
}

// GenerateResponse is the normalized inference result.
type GenerateResponse struct {
	Content      string
	TokensInput  int
	TokensOutput int
}

// Provider adapts one upstream inference API to the router. Implementations
// are safe for concurrent use; the per-attempt timeout arrives via ctx.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// New builds the adapter selected by the provider kind.
func New(providerID string, cfg models.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case models.KindOpenAI:
		return NewOpenAIProvider(providerID, cfg)
	case models.KindAnthropic:
		return NewAnthropicProvider(providerID, cfg)
	case models.KindGemini:
		return NewGeminiProvider(providerID, cfg)
	default:
		return nil, models.NewValidationError(
			fmt.Sprintf("unsupported provider kind %q for provider %s", cfg.Kind, providerID), nil)
	}
}

// userContent folds attachments into the prompt body so every adapter sees
// the same flattened input.
func userContent(req GenerateRequest) string {
	if len(req.Attachments) == 0 {
		return req.Prompt
	}
	var b strings.Builder
	b.WriteString(req.Prompt)
	for _, a := range req.Attachments {
		b.WriteString("\n\n")
		b.WriteString(a)
	}
	return b.String()
}

// classifyTransport maps errors with no HTTP status onto the router
// taxonomy. Context errors keep their cancellation vs timeout distinction.
func classifyTransport(name string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return models.NewCancelledError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewTimeoutError(name, err)
	default:
		return models.NewProviderError(name, "request failed", err)
	}
}

// configHash fingerprints the fields that affect client construction, used
// as the client cache key.
func configHash(cfg models.ProviderConfig) (string, error) {
	material := struct {
		APIKey  string            `json:"api_key"`
		BaseURL string            `json:"base_url"`
		Timeout int               `json:"timeout_ms"`
		Headers map[string]string `json:"headers"`
	}{cfg.APIKey, cfg.BaseURL, cfg.TimeoutMs, cfg.Headers}

	data, err := json.Marshal(material)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
