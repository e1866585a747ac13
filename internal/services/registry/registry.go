package registry

import (
	"fmt"

	"github.com/milhy545/adaptive-router/internal/config"
	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/circuitbreaker"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"
	"github.com/milhy545/adaptive-router/internal/services/providers"
	"github.com/milhy545/adaptive-router/internal/services/ratelimit"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Entry bundles one provider with its guard rails. The provider adapter,
// breaker, and limiter all live for the process lifetime.
type Entry struct {
	ID       string
	Config   models.ProviderConfig
	Provider providers.Provider
	Breaker  *circuitbreaker.CircuitBreaker
	Limiter  *ratelimit.Limiter
}

// Registry owns every configured provider entry. Construction is fail-fast:
// a provider that cannot be built rejects the whole configuration. The
// registry is immutable after construction.
type Registry struct {
	entries map[string]*Entry
	chain   []string
}

// New builds entries for every configured provider.
func New(cfg *config.Config, store kvstore.Store) (*Registry, error) {
	breakerCfg := circuitbreaker.ConfigFromModel(cfg.Router.CircuitBreaker)

	entries := make(map[string]*Entry, len(cfg.Providers))
	for id, pc := range cfg.Providers {
		provider, err := providers.New(id, pc)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}

		entries[id] = &Entry{
			ID:       id,
			Config:   pc,
			Provider: provider,
			Breaker:  circuitbreaker.New(id, breakerCfg),
			Limiter:  ratelimit.New(id, pc, cfg.Router.DailyResetHourUTC, store),
		}
		fiberlog.Infof("Registry: registered provider %s (kind=%s, model=%s, local=%t)",
			id, pc.Kind, pc.Model, pc.Local)
	}

	return &Registry{entries: entries, chain: cfg.Router.FallbackChain}, nil
}

// Get returns the entry for a provider id.
func (r *Registry) Get(id string) (*Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Chain returns entries in configured fallback order.
func (r *Registry) Chain() []*Entry {
	out := make([]*Entry, 0, len(r.chain))
	for _, id := range r.chain {
		if e, ok := r.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entry keyed by provider id.
func (r *Registry) All() map[string]*Entry {
	return r.entries
}

// Configs returns provider configurations keyed by id, for the health
// monitor's background refresh.
func (r *Registry) Configs() map[string]models.ProviderConfig {
	out := make(map[string]models.ProviderConfig, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Config
	}
	return out
}
