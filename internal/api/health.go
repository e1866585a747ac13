package api

import (
	"context"
	"time"

	"github.com/milhy545/adaptive-router/internal/services/database"
	"github.com/milhy545/adaptive-router/internal/services/kvstore"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles service health check requests.
type HealthHandler struct {
	store kvstore.Store
	db    *database.DB
}

// NewHealthHandler creates a health check handler. db may be nil when usage
// persistence is disabled.
func NewHealthHandler(store kvstore.Store, db *database.DB) *HealthHandler {
	return &HealthHandler{store: store, db: db}
}

// HealthCheck returns the health status of the service and its dependencies.
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	storeStatus := h.checkStore()
	dbStatus := h.checkDatabase()

	overallStatus := "healthy"
	statusCode := fiber.StatusOK
	if storeStatus != "healthy" || dbStatus == "unhealthy" {
		overallStatus = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": fiber.Map{
			"store":    storeStatus,
			"database": dbStatus,
		},
	})
}

func (h *HealthHandler) checkStore() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := h.store.Get(ctx, "healthcheck")
	if err != nil && err != kvstore.ErrNotFound {
		return "unhealthy"
	}
	return "healthy"
}

func (h *HealthHandler) checkDatabase() string {
	if h.db == nil {
		return "disabled"
	}
	if err := h.db.Ping(); err != nil {
		return "unhealthy"
	}
	return "healthy"
}
