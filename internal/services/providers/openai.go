package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/utils/clientcache"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/openai/openai-go/v2"
	openaiOption "github.com/openai/openai-go/v2/option"
)

// openaiClientCache is shared across adapter instances so providers with
// identical connection settings reuse one client.
var openaiClientCache = clientcache.NewCache[*openai.Client]()

// OpenAIProvider serves the OpenAI API and OpenAI-compatible local servers
// (Ollama, MLX, llama.cpp) selected through a custom base URL.
type OpenAIProvider struct {
	name string
	cfg  models.ProviderConfig
}

func NewOpenAIProvider(name string, cfg models.ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, models.NewProviderError(name, "API key not configured", nil)
	}
	return &OpenAIProvider{name: name, cfg: cfg}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(userContent(req)))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewProviderError(p.name, "empty completion response", nil)
	}

	return &GenerateResponse{
		Content:      resp.Choices[0].Message.Content,
		TokensInput:  int(resp.Usage.PromptTokens),
		TokensOutput: int(resp.Usage.CompletionTokens),
	}, nil
}

func (p *OpenAIProvider) client() (*openai.Client, error) {
	hash, err := configHash(p.cfg)
	if err != nil {
		fiberlog.Warnf("Failed to generate config hash for %s: %v, creating new client without caching", p.name, err)
		return p.buildClient()
	}

	return openaiClientCache.GetOrCreate(p.name+":"+hash, func() (*openai.Client, error) {
		fiberlog.Debugf("Creating new OpenAI client for %s (config hash: %s)", p.name, hash[:8])
		return p.buildClient()
	})
}

func (p *OpenAIProvider) buildClient() (*openai.Client, error) {
	opts := []openaiOption.RequestOption{
		openaiOption.WithAPIKey(p.cfg.APIKey),
	}

	if p.cfg.BaseURL != "" {
		opts = append(opts, openaiOption.WithBaseURL(p.cfg.BaseURL))
	}

	for key, value := range p.cfg.Headers {
		opts = append(opts, openaiOption.WithHeader(key, value))
	}

	if p.cfg.TimeoutMs > 0 {
		httpClient := &http.Client{Timeout: time.Duration(p.cfg.TimeoutMs) * time.Millisecond}
		opts = append(opts, openaiOption.WithHTTPClient(httpClient))
	}

	client := openai.NewClient(opts...)
	return &client, nil
}

func (p *OpenAIProvider) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return models.ClassifyProviderStatus(p.name, apierr.StatusCode, err)
	}
	return classifyTransport(p.name, err)
}
