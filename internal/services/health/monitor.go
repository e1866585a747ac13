package health

import (
	"context"
	"sync"
	"time"

	"github.com/milhy545/adaptive-router/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"
)

type cached struct {
	health  models.ProviderHealth
	expires time.Time
	sticky  bool
}

// Monitor caches probe results per provider with a TTL so routing decisions
// never block on a probe storm. Concurrent cache misses for the same
// provider collapse into a single in-flight probe. An UNAVAILABLE result is
// sticky: it is served past its TTL until the provider is invalidated,
// since bad credentials do not fix themselves.
type Monitor struct {
	prober Prober
	ttl    time.Duration

	mu    sync.RWMutex
	cache map[string]cached
	group singleflight.Group

	now func() time.Time
}

// NewMonitor builds a monitor from the health configuration.
func NewMonitor(cfg models.HealthConfig) *Monitor {
	return &Monitor{
		prober: NewHTTPProber(cfg.ProbeTimeout()),
		ttl:    cfg.TTL(),
		cache:  make(map[string]cached),
		now:    time.Now,
	}
}

// SetProber overrides the probe implementation. Test hook.
func (m *Monitor) SetProber(p Prober) { m.prober = p }

// SetClock overrides the time source. Test hook.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// Check returns the provider's health, serving from cache while fresh and
// probing on a miss.
func (m *Monitor) Check(ctx context.Context, providerID string, cfg models.ProviderConfig) models.ProviderHealth {
	if h, ok := m.cachedHealth(providerID); ok {
		return h
	}
	if err := ctx.Err(); err != nil {
		// Do not launch probes on behalf of a dead request.
		return models.ProviderHealth{Status: models.HealthDegraded, CheckedAt: m.now()}
	}

	v, _, _ := m.group.Do(providerID, func() (any, error) {
		h := m.prober.Probe(providerID, cfg)
		m.storeResult(providerID, h)
		return h, nil
	})
	return v.(models.ProviderHealth)
}

// Invalidate drops the cached entry so the next check probes again. Used by
// the administrative circuit reset to clear a sticky UNAVAILABLE.
func (m *Monitor) Invalidate(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, providerID)
}

// Cached returns the cached health without probing, for status reporting.
func (m *Monitor) Cached(providerID string) (models.ProviderHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cache[providerID]
	if !ok {
		return models.ProviderHealth{}, false
	}
	return c.health, true
}

// Refresh probes every given provider once, repopulating the cache. Run
// from a background ticker so checks rarely land on a cold cache.
func (m *Monitor) Refresh(ctx context.Context, providers map[string]models.ProviderConfig) {
	for id, cfg := range providers {
		if ctx.Err() != nil {
			return
		}
		if c, ok := m.entry(id); ok && c.sticky {
			continue
		}
		h := m.prober.Probe(id, cfg)
		m.storeResult(id, h)
	}
}

// Run refreshes provider health on a fixed interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, providers map[string]models.ProviderConfig) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fiberlog.Infof("HealthMonitor: background refresh every %s for %d providers", interval, len(providers))
	for {
		select {
		case <-ctx.Done():
			fiberlog.Info("HealthMonitor: background refresh stopped")
			return
		case <-ticker.C:
			m.Refresh(ctx, providers)
		}
	}
}

func (m *Monitor) cachedHealth(providerID string) (models.ProviderHealth, bool) {
	c, ok := m.entry(providerID)
	if !ok {
		return models.ProviderHealth{}, false
	}
	if c.sticky || m.now().Before(c.expires) {
		return c.health, true
	}
	return models.ProviderHealth{}, false
}

func (m *Monitor) entry(providerID string) (cached, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cache[providerID]
	return c, ok
}

func (m *Monitor) storeResult(providerID string, h models.ProviderHealth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[providerID] = cached{
		health:  h,
		expires: m.now().Add(m.ttl),
		sticky:  h.Status == models.HealthUnavailable,
	}
}
