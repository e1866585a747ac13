package router

import (
	"context"
	"sort"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/registry"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// candidate pairs a registry entry with its ordering keys for one route
// call.
type candidate struct {
	entry       *registry.Entry
	chainIndex  int
	thermalCost int
	healthCost  int
	health      models.ProviderHealth
}

// buildCandidates produces the ordered candidate list for one request,
// plus the ids of providers excluded as UNAVAILABLE (the caller records
// those as skipped attempts). Ordering is a stable sort on (thermal
// penalty, health penalty, cost hint when requested, chain index), so
// identical snapshots always produce the identical order. Under CRITICAL
// thermal state only local providers remain; an empty remainder is a hard
// stop.
func (r *Router) buildCandidates(ctx context.Context, req models.RequestContext, reading models.ThermalReading) ([]candidate, []*registry.Entry, *models.AppError) {
	chain := r.registry.Chain()

	candidates := make([]candidate, 0, len(chain))
	var unavailable []*registry.Entry
	for i, entry := range chain {
		if reading.State == models.ThermalCritical && !entry.Config.Local {
			continue
		}

		c := candidate{entry: entry, chainIndex: i}
		if reading.State == models.ThermalElevated && !entry.Config.Local {
			c.thermalCost = 1
		}
		c.health = r.health.Check(ctx, entry.ID, entry.Config)
		if !c.health.Eligible() {
			unavailable = append(unavailable, entry)
			continue
		}
		c.healthCost = c.health.OrderPenalty()
		candidates = append(candidates, c)
	}

	if reading.State == models.ThermalCritical && len(candidates) == 0 {
		fiberlog.Errorf("Router: thermal state CRITICAL (%.1fC) and no local providers in chain", reading.Temperature)
		return nil, unavailable, models.NewThermalShutdownError(reading.Temperature)
	}

	cheap := req.CostPreference == "cheap"
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.thermalCost != b.thermalCost {
			return a.thermalCost < b.thermalCost
		}
		if a.healthCost != b.healthCost {
			return a.healthCost < b.healthCost
		}
		if cheap && a.entry.Config.CostPer1MInputTokens != b.entry.Config.CostPer1MInputTokens {
			return a.entry.Config.CostPer1MInputTokens < b.entry.Config.CostPer1MInputTokens
		}
		return a.chainIndex < b.chainIndex
	})

	if req.PreferredProvider != "" {
		promotePreferred(candidates, req.PreferredProvider)
	}

	return candidates, unavailable, nil
}

// promotePreferred moves the preferred provider to the front, but only while
// it reports healthy. A degraded preference is a request to waste time.
func promotePreferred(candidates []candidate, preferred string) {
	for i, c := range candidates {
		if c.entry.ID != preferred {
			continue
		}
		if c.health.Status != models.HealthHealthy {
			fiberlog.Debugf("Router: preferred provider %s is %s, keeping computed order", preferred, c.health.Status)
			return
		}
		copy(candidates[1:i+1], candidates[:i])
		candidates[0] = c
		return
	}
}
