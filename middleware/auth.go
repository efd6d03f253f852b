package middleware

import (
	"crypto/subtle"

	"sendloop/config"

	"github.com/gofiber/fiber/v2"
)

// APIKey guards the internal API with a static key. When no key is
// configured (local development) the check is disabled.
func APIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := config.AppConfig.APIKey
		if expected == "" {
			return c.Next()
		}

		provided := c.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or missing API key",
			})
		}
		return c.Next()
	}
}
