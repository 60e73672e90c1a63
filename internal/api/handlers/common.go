package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/medivault/backend/pkg/utils"
)

// HeaderUserID carries the caller identity recorded in audit entries.
const HeaderUserID = "X-User-ID"

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// healthID normalises a raw health id and reports whether it is well formed.
func healthID(raw string) (string, bool) {
	id := utils.NormalizeHealthID(raw)
	return id, utils.ValidHealthID(id)
}
