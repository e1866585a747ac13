package api

import (
	"strings"

	"github.com/milhy545/adaptive-router/internal/models"
	"github.com/milhy545/adaptive-router/internal/services/router"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// RouteHandler serves inference routing requests.
type RouteHandler struct {
	router *router.Router
}

func NewRouteHandler(r *router.Router) *RouteHandler {
	return &RouteHandler{router: r}
}

// Route handles POST /v1/route. The response is always a RouterResult; a
// failed result carries the attempt history and an error taxonomy entry,
// never a bare 500.
func (h *RouteHandler) Route(c *fiber.Ctx) error {
	var req models.RequestContext
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("invalid request body", err))
	}

	if strings.TrimSpace(req.Prompt) == "" {
		return respondError(c, models.NewValidationError("prompt is required", nil))
	}
	if req.RequestID == "" {
		req.RequestID = requestID(c)
	}

	fiberlog.Infof("[%s] starting route request", req.RequestID)

	result := h.router.Route(c.UserContext(), req)
	if !result.Success {
		status := fiber.StatusBadGateway
		if result.Error != nil {
			status = result.Error.GetStatusCode()
		}
		return c.Status(status).JSON(result)
	}
	return c.JSON(result)
}

// requestID returns the middleware-assigned id, minting one for callers
// that bypass the middleware (direct handler tests).
func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("request_id").(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func respondError(c *fiber.Ctx, err error) error {
	appErr := models.SanitizeError(err)
	return c.Status(appErr.GetStatusCode()).JSON(fiber.Map{"error": appErr})
}
