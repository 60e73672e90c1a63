package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/medivault/backend/internal/emergency"
	"github.com/medivault/backend/pkg/logger"
)

const (
	localOrigin = "origin"
	localUserID = "user_id"
)

// WebSocketHandler keeps a channel open for responder devices that look up
// several patients in a row.
type WebSocketHandler struct {
	service EmergencyService
}

func NewWebSocketHandler(service EmergencyService) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

type wsMessage struct {
	Type     string `json:"type"`
	HealthID string `json:"health_id"`
	UserID   string `json:"user_id"`
}

// Upgrade admits websocket upgrades and captures the caller details that
// are no longer reachable once the connection is hijacked.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(localOrigin, utils.CopyString(c.IP()))
	c.Locals(localUserID, utils.CopyString(c.Get(HeaderUserID)))
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	origin, _ := c.Locals(localOrigin).(string)
	userID, _ := c.Locals(localUserID).(string)

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.UserID == "" {
			msg.UserID = userID
		}

		if msg.Type == "emergency" {
			if err := c.WriteJSON(fiber.Map{"type": "status", "content": "Retrieving emergency brief..."}); err != nil {
				logger.Error("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}

		if err := c.WriteJSON(h.handleMessage(context.Background(), msg, origin)); err != nil {
			logger.Error("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// handleMessage returns the reply frame for one inbound message.
func (h *WebSocketHandler) handleMessage(ctx context.Context, msg wsMessage, origin string) fiber.Map {
	if msg.Type != "emergency" {
		return errorFrame("Unsupported message type")
	}

	id, ok := healthID(msg.HealthID)
	if !ok {
		return errorFrame("Invalid health ID format")
	}

	brief := h.service.GetBrief(ctx, emergency.Request{
		HealthID:      id,
		AccessedBy:    msg.UserID,
		OriginAddress: origin,
	})

	return fiber.Map{
		"type":  "brief",
		"brief": brief,
	}
}

func errorFrame(msg string) fiber.Map {
	return fiber.Map{
		"type":  "error",
		"error": msg,
	}
}
