package providers

import (
	"context"
	"errors"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/utils/clientcache"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

var geminiClientCache = clientcache.NewCache[*genai.Client]()

// GeminiProvider adapts the Google Gemini API.
type GeminiProvider struct {
	name string
	cfg  models.ProviderConfig
}

func NewGeminiProvider(name string, cfg models.ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(name, "API key not configured", nil)
	}
	return &GeminiProvider{name: name, cfg: cfg}, nil
}

func (p *GeminiProvider) Name() string { return p.name }

func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	client, err := p.client(ctx)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.Model, genai.Text(userContent(req)), config)
	if err != nil {
		return nil, p.classify(err)
	}

	result := &GenerateResponse{Content: resp.Text()}
	if resp.UsageMetadata != nil {
		result.TokensInput = int(resp.UsageMetadata.PromptTokenCount)
		result.TokensOutput = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func (p *GeminiProvider) client(ctx context.Context) (*genai.Client, error) {
	hash, err := configHash(p.cfg)
	if err != nil {
		fiberlog.Warnf("Failed to generate config hash for %s: %v, creating new client without caching", p.name, err)
		return p.buildClient(ctx)
	}

	return geminiClientCache.GetOrCreate(p.name+":"+hash, func() (*genai.Client, error) {
		fiberlog.Debugf("Creating new Gemini client for %s (config hash: %s)", p.name, hash[:8])
		return p.buildClient(ctx)
	})
}

func (p *GeminiProvider) buildClient(ctx context.Context) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, models.NewProviderError(p.name, "failed to create Gemini client", err)
	}
	return client, nil
}

func (p *GeminiProvider) classify(err error) error {
	var apierr genai.APIError
	if errors.As(err, &apierr) {
		return models.ClassifyProviderStatus(p.name, apierr.Code, err)
	}
	return classifyTransport(p.name, err)
}
