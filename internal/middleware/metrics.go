package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/metrics"
)

// MetricsMiddleware tracks HTTP request metrics. Requests are labelled by
// route pattern so ids in paths do not blow up cardinality.
func MetricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Path() == "/metrics" {
			return c.Next()
		}

		metrics.HTTPRequestsInFlight.Inc()
		defer metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		err := c.Next()
		duration := time.Since(start).Seconds()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else if status < fiber.StatusBadRequest {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		if route == "" || (route == "/" && c.Path() != "/") {
			route = "unmatched"
		}
		code := strconv.Itoa(status)

		metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), route, code).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Method(), route, code).Observe(duration)

		return err
	}
}
