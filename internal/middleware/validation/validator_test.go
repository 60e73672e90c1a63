package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(cfg))
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }
	app.Post("/api/v1/search", ok)
	app.Post("/api/v1/documents", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path, contentType, body string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestSearchValidation(t *testing.T) {
	app := newApp(Config{MaxQueryLength: 40})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"plain clinical query", `{"health_id":"HID-1","query":"drop in blood pressure after update"}`, fiber.StatusOK},
		{"missing query", `{"health_id":"HID-1"}`, fiber.StatusBadRequest},
		{"blank query", `{"query":"   "}`, fiber.StatusBadRequest},
		{"too long", `{"query":"` + strings.Repeat("a", 41) + `"}`, fiber.StatusBadRequest},
		{"union select", `{"query":"x' UNION SELECT password"}`, fiber.StatusBadRequest},
		{"script tag", `{"query":"<script>alert(1)</script>"}`, fiber.StatusBadRequest},
		{"broken json", `{"query":`, fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, app, "/api/v1/search", "application/json", tt.body))
		})
	}
}

func TestDocumentValidation(t *testing.T) {
	app := newApp(Config{MaxDocumentSize: 16})

	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/documents", "application/json", `{"content":"short"}`))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "/api/v1/documents", "application/json", `{"content":"this is far too long"}`))
	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/documents", "text/plain", "short note"))
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, post(t, app, "/api/v1/documents", "text/html", "<p>this is far too long</p>"))
	assert.Equal(t, fiber.StatusUnsupportedMediaType, post(t, app, "/api/v1/documents", "application/xml", "<a/>"))
}

func TestSearchQueryIsSanitized(t *testing.T) {
	app := fiber.New()
	app.Use(Middleware(Config{}))

	var got interface{}
	app.Post("/api/v1/search", func(c *fiber.Ctx) error {
		got = c.Locals(SanitizedQueryKey)
		return c.SendStatus(fiber.StatusOK)
	})

	assert.Equal(t, fiber.StatusOK, post(t, app, "/api/v1/search", "application/json", `{"query":"  metformin\u0000 dose  "}`))
	assert.Equal(t, "metformin dose", got)
}
