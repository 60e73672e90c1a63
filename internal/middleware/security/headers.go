package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	AllowedOrigins []string
	IsDevelopment  bool
	// NoStorePrefixes lists path prefixes whose responses carry patient data
	// and must never be cached by browsers or proxies.
	NoStorePrefixes []string
}

func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'self'; " +
		"script-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:; " +
		"font-src 'self' data:; " +
		"connect-src " + buildConnectSrc(cfg.AllowedOrigins) + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'self'; " +
		"form-action 'self'"

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-XSS-Protection", "1; mode=block")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Set("Content-Security-Policy", csp)

		path := c.Path()
		for _, prefix := range cfg.NoStorePrefixes {
			if strings.HasPrefix(path, prefix) {
				c.Set(fiber.HeaderCacheControl, "no-store")
				c.Set("Pragma", "no-cache")
				break
			}
		}

		return c.Next()
	}
}

func buildConnectSrc(origins []string) string {
	return strings.Join(append([]string{"'self'"}, origins...), " ")
}
