package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/kg/neo4j"
	"github.com/medivault/backend/pkg/logger"
)

type FactReader interface {
	PatientFacts(ctx context.Context, healthID string) ([]neo4j.Fact, error)
}

// FactsHandler exposes the patient fact graph. A nil reader means the graph
// is disabled and every request gets 503.
type FactsHandler struct {
	reader FactReader
}

func NewFactsHandler(reader FactReader) *FactsHandler {
	return &FactsHandler{reader: reader}
}

func (h *FactsHandler) PatientFacts(c *fiber.Ctx) error {
	if h.reader == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "Fact graph is not enabled")
	}

	id, ok := healthID(c.Params("healthID"))
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid health ID format")
	}

	facts, err := h.reader.PatientFacts(c.Context(), id)
	if err != nil {
		logger.Error("Failed to read patient facts", zap.String("health_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusBadGateway, "Failed to read patient facts")
	}
	if facts == nil {
		facts = []neo4j.Fact{}
	}

	return c.JSON(fiber.Map{
		"health_id": id,
		"facts":     facts,
	})
}
