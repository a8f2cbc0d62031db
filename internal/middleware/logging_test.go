package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogging_WithRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))

	var seen string
	app.Get("/test", func(c *fiber.Ctx) error {
		seen = GetRequestID(c)
		if GetLogger(c) == nil {
			t.Error("expected logger to be set")
		}
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if len(seen) != 36 {
		t.Errorf("expected UUID length 36, got %d", len(seen))
	}
	if got := resp.Header.Get(RequestIDHeader); got != seen {
		t.Errorf("expected response header %q, got %q", seen, got)
	}
}

func TestRequestLogging_HonorsIncomingRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/test", func(c *fiber.Ctx) error {
		return c.SendString(GetRequestID(c))
	})

	const incoming = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, incoming)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(RequestIDHeader); got != incoming {
		t.Errorf("expected %q, got %q", incoming, got)
	}

	req = httptest.NewRequest("GET", "/test", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a fresh request id, got %q", got)
	}
}

func TestRequestLogging_StatusCodes(t *testing.T) {
	testCases := []struct {
		name   string
		status int
	}{
		{"success", fiber.StatusOK},
		{"bad request", fiber.StatusBadRequest},
		{"rate limited", fiber.StatusTooManyRequests},
		{"internal error", fiber.StatusInternalServerError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(RequestLogging(logger.NewNop()))
			app.Get("/test", func(c *fiber.Ctx) error {
				return c.SendStatus(tc.status)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			if resp.StatusCode != tc.status {
				t.Errorf("expected status %d, got %d", tc.status, resp.StatusCode)
			}
		})
	}
}

func TestRequestLogging_WithError(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogging(logger.NewNop()))
	app.Get("/test", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusInternalServerError, "test error")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/test", nil))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", resp.StatusCode)
	}
}

func TestGetRequestID_NoContext(t *testing.T) {
	app := fiber.New()
	app.Get("/test", func(c *fiber.Ctx) error {
		if id := GetRequestID(c); id != "" {
			t.Errorf("expected empty request ID, got %q", id)
		}
		GetLogger(c).Info("fallback logger is usable")
		return c.SendString("ok")
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/test", nil)); err != nil {
		t.Fatalf("request failed: %v", err)
	}
}

func TestRequestLogging_ScopedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	app := fiber.New()
	app.Use(RequestLogging(logger.NewWithCore(core), "/health/live"))
	app.Get("/verify", func(c *fiber.Ctx) error {
		GetLogger(c).Info("roster checked")
		return c.SendString("ok")
	})
	app.Get("/health/live", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	_, err := app.Test(httptest.NewRequest("GET", "/verify", nil))
	require.NoError(t, err)

	handlerEntries := logs.FilterMessage("roster checked").All()
	require.Len(t, handlerEntries, 1)
	fields := handlerEntries[0].ContextMap()
	assert.Equal(t, logger.ServiceName, fields["service"])
	assert.NotEmpty(t, fields["request_id"])
	assert.Contains(t, fields, "ip")

	completed := logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.InfoLevel, completed[0].Level)
	assert.Equal(t, "/verify", completed[0].ContextMap()["route"])

	_, err = app.Test(httptest.NewRequest("GET", "/health/live", nil))
	require.NoError(t, err)
	completed = logs.FilterMessage("Request completed").All()
	require.Len(t, completed, 2)
	assert.Equal(t, zapcore.DebugLevel, completed[1].Level)
}
