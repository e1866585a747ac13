package api

import (
	"time"

	"github.com/milhy545/adaptive-router/internal/services/router"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

// StatusHandler exposes provider diagnostics and the administrative circuit
// reset.
type StatusHandler struct {
	router *router.Router
}

func NewStatusHandler(r *router.Router) *StatusHandler {
	return &StatusHandler{router: r}
}

// ProviderStatus handles GET /v1/providers/status.
func (h *StatusHandler) ProviderStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"providers": h.router.StatusSnapshot(),
	})
}

// ResetCircuit handles POST /v1/providers/:provider/circuit/reset.
func (h *StatusHandler) ResetCircuit(c *fiber.Ctx) error {
	providerID := c.Params("provider")
	if err := h.router.ResetCircuit(providerID); err != nil {
		return respondError(c, err)
	}

	fiberlog.Infof("Circuit breaker reset requested for provider %s", providerID)
	return c.JSON(fiber.Map{"provider": providerID, "circuit_state": "Closed"})
}
