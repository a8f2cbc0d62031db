package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/auth"
	"github.com/neogan74/certdesk/internal/logger"
)

// AdminKeyHeader is the header alternative to the admin_key query parameter
const AdminKeyHeader = "X-Admin-Key"

// AdminKey rejects requests that do not carry the admin secret.
func AdminKey(key *auth.AdminKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		candidate := c.Get(AdminKeyHeader)
		if candidate == "" {
			candidate = c.Query("admin_key")
		}

		if err := key.Verify(candidate); err != nil {
			GetLogger(c).Warn("Rejected admin request",
				logger.String("path", c.Path()),
				logger.ClientIP(c.IP()),
				logger.Bool("admin_enabled", key.Enabled()))
			return Unauthorized(c, "Invalid admin key")
		}
		return c.Next()
	}
}
