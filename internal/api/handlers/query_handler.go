package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/middleware/validation"
	"github.com/medivault/backend/internal/query"
	"github.com/medivault/backend/pkg/logger"
)

type Searcher interface {
	SearchWithContext(ctx context.Context, healthID, queryText string) ([]query.Result, error)
}

type QueryHandler struct {
	searcher Searcher
}

func NewQueryHandler(searcher Searcher) *QueryHandler {
	return &QueryHandler{
		searcher: searcher,
	}
}

func (h *QueryHandler) HandleSearch(c *fiber.Ctx) error {
	var req struct {
		HealthID string `json:"health_id"`
		Query    string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if sanitized, ok := c.Locals(validation.SanitizedQueryKey).(string); ok {
		req.Query = sanitized
	}

	id, ok := healthID(req.HealthID)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "A valid health_id is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return errorResponse(c, fiber.StatusBadRequest, "Query is required")
	}

	results, err := h.searcher.SearchWithContext(c.Context(), id, req.Query)
	if err != nil {
		logger.Error("Failed to search records", zap.String("health_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to search records")
	}

	return c.JSON(fiber.Map{
		"health_id": id,
		"query":     req.Query,
		"results":   results,
		"count":     len(results),
	})
}
