package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/middleware"
	"github.com/neogan74/certdesk/internal/ratelimit"
)

// RateLimitHandler handles rate limit administration endpoints
type RateLimitHandler struct {
	store *ratelimit.Store
	log   logger.Logger
}

// NewRateLimitHandler creates a new rate limit admin handler. A nil store
// means rate limiting is disabled.
func NewRateLimitHandler(store *ratelimit.Store, log logger.Logger) *RateLimitHandler {
	return &RateLimitHandler{
		store: store,
		log:   log,
	}
}

// GetStats returns the limiter configuration and every tracked window
// GET /admin/ratelimit/stats
func (h *RateLimitHandler) GetStats(c *fiber.Ctx) error {
	if h.store == nil {
		return c.JSON(fiber.Map{
			"success": true,
			"enabled": false,
		})
	}

	clients := h.store.Clients()
	h.log.Debug("Rate limit stats retrieved", logger.Int("windows", len(clients)))

	return c.JSON(fiber.Map{
		"success":      true,
		"enabled":      true,
		"max_requests": h.store.Limit(),
		"window":       h.store.WindowSize().String(),
		"count":        len(clients),
		"clients":      clients,
	})
}

// GetClientStatus returns one window
// GET /admin/ratelimit/client/:ip/:action
func (h *RateLimitHandler) GetClientStatus(c *fiber.Ctx) error {
	if h.store == nil {
		return middleware.NotFound(c, "Rate limiting is disabled")
	}

	status := h.store.Status(c.Params("ip"), c.Params("action"))
	if status == nil {
		return middleware.NotFound(c, "Client not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"client":  status,
	})
}

// ResetIP drops every window of one address
// POST /admin/ratelimit/reset/:ip
func (h *RateLimitHandler) ResetIP(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if ip == "" {
		return middleware.BadRequest(c, "IP address is required")
	}

	removed := 0
	if h.store != nil {
		removed = h.store.Reset(ip)
	}

	h.log.Info("Rate limit reset for IP",
		logger.ClientIP(ip),
		logger.Int("windows", removed),
		logger.String("admin_ip", c.IP()))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Rate limit reset successfully",
		"ip":      ip,
		"removed": removed,
	})
}

// ResetAll drops every window
// POST /admin/ratelimit/reset
func (h *RateLimitHandler) ResetAll(c *fiber.Ctx) error {
	if h.store != nil {
		h.store.ResetAll()
	}

	h.log.Warn("All rate limiters reset", logger.String("admin_ip", c.IP()))

	return c.JSON(fiber.Map{
		"success": true,
		"message": "All rate limiters reset",
	})
}
