package health

import (
	"errors"
	"strings"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// Prober performs a single health check against one provider.
type Prober interface {
	Probe(providerID string, cfg models.ProviderConfig) models.ProviderHealth
}

// HTTPProber issues cheap GET probes against a provider's health endpoint.
type HTTPProber struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// NewHTTPProber builds a prober with the given per-probe timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
		timeout: timeout,
	}
}

// Probe checks the provider's health endpoint and classifies the result.
// Providers without a health endpoint are assumed healthy.
func (p *HTTPProber) Probe(providerID string, cfg models.ProviderConfig) models.ProviderHealth {
	endpoint := probeURL(cfg)
	if endpoint == "" {
		return models.ProviderHealth{Status: models.HealthHealthy, CheckedAt: time.Now()}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodGet)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	start := time.Now()
	err := p.client.DoTimeout(req, resp, p.timeout)
	latency := time.Since(start)

	checked := models.ProviderHealth{CheckedAt: time.Now(), Latency: latency}

	if err != nil {
		checked.Status = models.HealthDegraded
		if errors.Is(err, fasthttp.ErrTimeout) {
			fiberlog.Warnf("HealthProber: %s probe timed out after %s", providerID, p.timeout)
		} else {
			fiberlog.Warnf("HealthProber: %s probe failed: %v", providerID, err)
		}
		return checked
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 400:
		checked.Status = models.HealthHealthy
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		checked.Status = models.HealthUnavailable
		fiberlog.Errorf("HealthProber: %s rejected credentials (status %d)", providerID, status)
	case status >= 500 || status == fasthttp.StatusRequestTimeout || status == fasthttp.StatusTooManyRequests:
		checked.Status = models.HealthDegraded
		fiberlog.Warnf("HealthProber: %s degraded (status %d): %s", providerID, status, bodySnippet(resp))
	default:
		checked.Status = models.HealthError
		fiberlog.Warnf("HealthProber: %s unexpected probe status %d: %s", providerID, status, bodySnippet(resp))
	}
	return checked
}

// probeURL resolves the configured health endpoint, joining relative paths
// onto the provider base URL.
func probeURL(cfg models.ProviderConfig) string {
	ep := cfg.HealthEndpoint
	if ep == "" {
		return ""
	}
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	if cfg.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(ep, "/")
}

// bodySnippet copies a truncated response body through the buffer pool for
// log output.
func bodySnippet(resp *fasthttp.Response) string {
	body := resp.Body()
	if len(body) == 0 {
		return "<empty>"
	}
	const maxSnippet = 256
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if len(body) > maxSnippet {
		body = body[:maxSnippet]
	}
	_, _ = buf.Write(body)
	return buf.String()
}
