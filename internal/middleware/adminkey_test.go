package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/auth"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func adminApp(secret string) *fiber.App {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/admin/logs", AdminKey(auth.NewAdminKey(secret)), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAdminKey(t *testing.T) {
	app := adminApp("s3cret")

	testCases := []struct {
		name   string
		target string
		header string
		status int
	}{
		{"query", "/admin/logs?admin_key=s3cret", "", fiber.StatusOK},
		{"header", "/admin/logs", "s3cret", fiber.StatusOK},
		{"wrong", "/admin/logs?admin_key=nope", "", fiber.StatusUnauthorized},
		{"missing", "/admin/logs", "", fiber.StatusUnauthorized},
		{"header wins", "/admin/logs?admin_key=s3cret", "nope", fiber.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.target, nil)
			if tc.header != "" {
				req.Header.Set(AdminKeyHeader, tc.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestAdminKey_Disabled(t *testing.T) {
	app := adminApp("")

	resp, err := app.Test(httptest.NewRequest("GET", "/admin/logs?admin_key=", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
