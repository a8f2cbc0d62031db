package middleware

import (
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/ratelimit"
)

// SetRateLimitHeaders writes the RFC 6585 style headers for d.
func SetRateLimitHeaders(c *fiber.Ctx, d ratelimit.Decision) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// SetRetryAfter writes the Retry-After header for a rejected decision.
func SetRetryAfter(c *fiber.Ctx, d ratelimit.Decision) {
	retry := d.RetryAfter(time.Now())
	c.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
}

// RateLimit checks the client IP against store under action. A nil store
// lets every request through.
func RateLimit(store *ratelimit.Store, action string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if store == nil {
			return c.Next()
		}

		d := store.Check(c.IP(), action)
		SetRateLimitHeaders(c, d)

		if !d.Allowed {
			metrics.RateLimitRequestsTotal.WithLabelValues(action, "rejected").Inc()
			SetRetryAfter(c, d)
			GetLogger(c).Warn("Rate limit exceeded", logger.Action(action))
			return TooManyRequests(c, "Too many requests. Please wait before trying again.")
		}

		metrics.RateLimitRequestsTotal.WithLabelValues(action, "allowed").Inc()
		return c.Next()
	}
}
