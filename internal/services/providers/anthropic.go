package providers

import (
	"context"
	"errors"
	"strings"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/utils/clientcache"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

var anthropicClientCache = clientcache.NewCache[*anthropic.Client]()

// AnthropicProvider adapts the Anthropic Messages API.
type AnthropicProvider struct {
	name string
	cfg  models.ProviderConfig
}

func NewAnthropicProvider(name string, cfg models.ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, models.NewProviderError(name, "API key not configured", nil)
	}
	return &AnthropicProvider{name: name, cfg: cfg}, nil
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		MaxTokens: maxTokens,
		Model:     anthropic.Model(p.cfg.Model),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent(req))),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return &GenerateResponse{
		Content:      content.String(),
		TokensInput:  int(message.Usage.InputTokens),
		TokensOutput: int(message.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) client() (*anthropic.Client, error) {
	hash, err := configHash(p.cfg)
	if err != nil {
		fiberlog.Warnf("Failed to generate config hash for %s: %v, creating new client without caching", p.name, err)
		return p.buildClient(), nil
	}

	return anthropicClientCache.GetOrCreate(p.name+":"+hash, func() (*anthropic.Client, error) {
		fiberlog.Debugf("Creating new Anthropic client for %s (config hash: %s)", p.name, hash[:8])
		return p.buildClient(), nil
	})
}

func (p *AnthropicProvider) buildClient() *anthropic.Client {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(p.cfg.APIKey),
	}

	if p.cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.cfg.BaseURL))
	}

	for key, value := range p.cfg.Headers {
		clientOpts = append(clientOpts, option.WithHeader(key, value))
	}

	client := anthropic.NewClient(clientOpts...)
	return &client
}

func (p *AnthropicProvider) classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return models.ClassifyProviderStatus(p.name, apierr.StatusCode, err)
	}
	return classifyTransport(p.name, err)
}
