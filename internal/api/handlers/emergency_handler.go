package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/emergency"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/pkg/logger"
)

type EmergencyService interface {
	GetBrief(ctx context.Context, req emergency.Request) emergency.Brief
	AccessHistory(ctx context.Context, healthID string) ([]models.AccessLogEntry, error)
}

// EmergencyHandler serves briefs to responders. Lookups are unauthenticated;
// every lookup is audited with the caller's X-User-ID and address.
type EmergencyHandler struct {
	service EmergencyService
}

func NewEmergencyHandler(service EmergencyService) *EmergencyHandler {
	return &EmergencyHandler{service: service}
}

func (h *EmergencyHandler) GetBrief(c *fiber.Ctx) error {
	raw := c.Query("id")
	if raw == "" {
		raw = c.Query("health_id")
	}
	return h.respond(c, raw)
}

func (h *EmergencyHandler) PostBrief(c *fiber.Ctx) error {
	var req struct {
		ID       string `json:"id"`
		HealthID string `json:"health_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	raw := req.HealthID
	if raw == "" {
		raw = req.ID
	}
	return h.respond(c, raw)
}

func (h *EmergencyHandler) respond(c *fiber.Ctx, raw string) error {
	if raw == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Health ID is required")
	}
	id, ok := healthID(raw)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid health ID format")
	}

	brief := h.service.GetBrief(c.Context(), emergency.Request{
		HealthID:      id,
		AccessedBy:    c.Get(HeaderUserID),
		OriginAddress: c.IP(),
	})

	return c.JSON(brief)
}

func (h *EmergencyHandler) History(c *fiber.Ctx) error {
	id, ok := healthID(c.Params("healthID"))
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid health ID format")
	}

	entries, err := h.service.AccessHistory(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load access history", zap.String("health_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to load access history")
	}
	if entries == nil {
		entries = []models.AccessLogEntry{}
	}

	return c.JSON(fiber.Map{
		"health_id": id,
		"entries":   entries,
	})
}
