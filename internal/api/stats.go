package api

import (
	"time"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/usage"

	"github.com/gofiber/fiber/v2"
)

// StatsHandler exposes aggregated usage statistics.
type StatsHandler struct {
	usage *usage.Service
}

func NewStatsHandler(svc *usage.Service) *StatsHandler {
	return &StatsHandler{usage: svc}
}

// UsageStats handles GET /v1/usage/stats?hours=24.
func (h *StatsHandler) UsageStats(c *fiber.Ctx) error {
	if h.usage == nil {
		return respondError(c, models.NewValidationError("usage persistence is disabled", nil))
	}

	hours := c.QueryInt("hours", 24)
	if hours <= 0 || hours > 24*90 {
		return respondError(c, models.NewValidationError("hours must be between 1 and 2160", nil))
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	stats, err := h.usage.StatsSince(c.UserContext(), since)
	if err != nil {
		return respondError(c, models.NewInternalError("failed to aggregate usage", err))
	}

	return c.JSON(fiber.Map{
		"since":     since.UTC().Format(time.RFC3339),
		"providers": stats,
	})
}
