package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/ingestion"
	"github.com/medivault/backend/internal/storage/models"
	"github.com/medivault/backend/internal/summary"
	"github.com/medivault/backend/pkg/logger"
)

type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, up ingestion.Upload) (*ingestion.Result, error)
	RegenerateSummary(ctx context.Context, recordID string) (*summary.Record, error)
	RegenerateAll(ctx context.Context, healthID string) (int, error)
}

type SummaryReader interface {
	GetSummary(ctx context.Context, recordID string) (*models.Summary, error)
}

type DocumentHandler struct {
	processor DocumentProcessor
	summaries SummaryReader
}

func NewDocumentHandler(processor DocumentProcessor, summaries SummaryReader) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		summaries: summaries,
	}
}

type uploadRequest struct {
	HealthID     string `json:"health_id"`
	DocumentType string `json:"document_type"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	ContentType  string `json:"content_type"`
	UploadedBy   string `json:"uploaded_by"`
}

// UploadDocument accepts either a JSON body or a raw text/plain or text/html
// body with health_id and document_type in the query string.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req uploadRequest

	contentType := strings.ToLower(string(c.Request().Header.ContentType()))
	if strings.HasPrefix(contentType, "text/") {
		req = uploadRequest{
			HealthID:     c.Query("health_id"),
			DocumentType: c.Query("document_type"),
			Title:        c.Query("title"),
			Content:      string(c.Body()),
			ContentType:  contentType,
		}
	} else if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}

	id, ok := healthID(req.HealthID)
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "A valid health_id is required")
	}
	if req.UploadedBy == "" {
		req.UploadedBy = c.Get(HeaderUserID)
	}

	result, err := h.processor.ProcessDocument(c.Context(), ingestion.Upload{
		HealthID:     id,
		DocumentType: req.DocumentType,
		Title:        req.Title,
		Content:      req.Content,
		ContentType:  req.ContentType,
		UploadedBy:   req.UploadedBy,
	})
	if err != nil {
		logger.Error("Failed to process document", zap.String("health_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to process document")
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *DocumentHandler) GetSummary(c *fiber.Ctx) error {
	recordID := c.Params("id")

	s, err := h.summaries.GetSummary(c.Context(), recordID)
	if errors.Is(err, models.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "Summary not found")
	}
	if err != nil {
		logger.Error("Failed to load summary", zap.String("record_id", recordID), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to load summary")
	}

	return c.JSON(s)
}

func (h *DocumentHandler) RegenerateSummary(c *fiber.Ctx) error {
	recordID := c.Params("id")

	rec, err := h.processor.RegenerateSummary(c.Context(), recordID)
	if errors.Is(err, models.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "Record not found")
	}
	if err != nil {
		logger.Error("Failed to regenerate summary", zap.String("record_id", recordID), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to regenerate summary")
	}

	return c.JSON(fiber.Map{
		"record_id": recordID,
		"summary":   rec,
	})
}

func (h *DocumentHandler) RegeneratePatient(c *fiber.Ctx) error {
	id, ok := healthID(c.Params("healthID"))
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid health_id")
	}

	n, err := h.processor.RegenerateAll(c.Context(), id)
	if err != nil {
		logger.Error("Failed to regenerate patient summaries", zap.String("health_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to regenerate summaries")
	}

	return c.JSON(fiber.Map{
		"health_id":   id,
		"regenerated": n,
	})
}
