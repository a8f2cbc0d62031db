package middleware

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var errResp ErrorResponse
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &errResp))
	return errResp
}

func TestErrorHelpers(t *testing.T) {
	testCases := []struct {
		name    string
		handler func(*fiber.Ctx, string) error
		status  int
		title   string
	}{
		{"bad request", BadRequest, fiber.StatusBadRequest, "Bad Request"},
		{"unauthorized", Unauthorized, fiber.StatusUnauthorized, "Unauthorized"},
		{"forbidden", Forbidden, fiber.StatusForbidden, "Forbidden"},
		{"not found", NotFound, fiber.StatusNotFound, "Not Found"},
		{"too many requests", TooManyRequests, fiber.StatusTooManyRequests, "Too Many Requests"},
		{"internal", InternalServerError, fiber.StatusInternalServerError, "Internal Server Error"},
		{"unavailable", ServiceUnavailable, fiber.StatusServiceUnavailable, "Service Unavailable"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(RequestLogging(logger.NewNop()))
			app.Get("/test", func(c *fiber.Ctx) error {
				return tc.handler(c, "details")
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)

			errResp := decodeError(t, resp.Body)
			assert.Equal(t, tc.title, errResp.Error)
			assert.Equal(t, "details", errResp.Message)
			assert.Equal(t, "/test", errResp.Path)
			assert.NotEmpty(t, errResp.RequestID)
			assert.False(t, errResp.Timestamp.IsZero())
		})
	}
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/fiber", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "bad query")
	})
	app.Get("/plain", func(c *fiber.Ctx) error {
		return errors.New("secret internals")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/fiber", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	errResp := decodeError(t, resp.Body)
	assert.Equal(t, "Bad Request", errResp.Error)
	assert.Equal(t, "bad query", errResp.Message)

	resp, err = app.Test(httptest.NewRequest("GET", "/plain", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	errResp = decodeError(t, resp.Body)
	assert.NotContains(t, errResp.Message, "secret")

	resp, err = app.Test(httptest.NewRequest("GET", "/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not Found", decodeError(t, resp.Body).Error)
}
