package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/anomaly"
	"github.com/neogan74/certdesk/internal/audit"
	"github.com/neogan74/certdesk/internal/gate"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/middleware"
	"github.com/neogan74/certdesk/internal/roster"
)

// Bulker renders every certificate of a roster.
type Bulker interface {
	Bulk(ctx context.Context, kind roster.Kind, force bool) (*gate.BulkResult, error)
}

// AuditQuerier reads the audit log.
type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Scanner finds suspicious addresses in the audit log.
type Scanner interface {
	Scan(ctx context.Context, window time.Duration) ([]anomaly.Verdict, error)
}

// AdminHandler serves the admin key protected endpoints
type AdminHandler struct {
	bulk       Bulker
	audit      AuditQuerier
	scanner    Scanner
	queryLimit int
	now        func() time.Time
	log        logger.Logger
}

// NewAdminHandler creates a new admin handler. queryLimit is the default
// number of entries returned by Logs.
func NewAdminHandler(bulk Bulker, auditLog AuditQuerier, scanner Scanner, queryLimit int, log logger.Logger) *AdminHandler {
	if queryLimit <= 0 {
		queryLimit = 500
	}
	return &AdminHandler{
		bulk:       bulk,
		audit:      auditLog,
		scanner:    scanner,
		queryLimit: queryLimit,
		now:        time.Now,
		log:        log,
	}
}

type bulkQuery struct {
	Force bool `query:"force"`
}

type logsQuery struct {
	IP    string `query:"ip" validate:"omitempty,max=64"`
	Limit int    `query:"limit" validate:"omitempty,min=1,max=10000"`
	Days  int    `query:"days" validate:"omitempty,min=1,max=366"`
}

type suspiciousQuery struct {
	Window int `query:"window" validate:"omitempty,min=1,max=10080"`
}

// GenerateAll renders every missing student certificate
// GET /generate-all
func (h *AdminHandler) GenerateAll(c *fiber.Ctx) error {
	return h.generate(c, roster.KindStudent, "total_students")
}

// GenerateAllManagement renders every missing management certificate
// GET /generate-all-management
func (h *AdminHandler) GenerateAllManagement(c *fiber.Ctx) error {
	return h.generate(c, roster.KindManagement, "total_management")
}

func (h *AdminHandler) generate(c *fiber.Ctx, kind roster.Kind, totalKey string) error {
	var q bulkQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}

	res, err := h.bulk.Bulk(c.UserContext(), kind, q.Force)
	if err != nil {
		if errors.Is(err, roster.ErrStoreUnavailable) {
			return middleware.ServiceUnavailable(c, databaseName(kind)+" database CSV not available")
		}
		h.log.Error("Bulk generation failed",
			logger.Kind(string(kind)),
			logger.Error(err))
		return middleware.InternalServerError(c, "Error generating certificates")
	}

	return c.JSON(fiber.Map{
		"success":       len(res.Failed) == 0,
		totalKey:        res.Total,
		"generated":     len(res.Generated),
		"skipped":       len(res.Skipped),
		"failed":        len(res.Failed),
		"generated_ids": res.Generated,
		"skipped_ids":   res.Skipped,
		"failures":      res.Failed,
		"duplicate_ids": res.Duplicates,
	})
}

// Logs returns recent audit entries, newest first
// GET /admin/logs
func (h *AdminHandler) Logs(c *fiber.Ctx) error {
	var q logsQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}

	filter := audit.Filter{IP: q.IP, Limit: h.queryLimit}
	if q.Limit > 0 {
		filter.Limit = q.Limit
	}
	if q.Days > 1 {
		filter.Since = h.now().AddDate(0, 0, -(q.Days - 1))
	}

	entries, err := h.audit.Query(c.UserContext(), filter)
	if err != nil {
		h.log.Error("Audit query failed", logger.Error(err))
		return middleware.InternalServerError(c, "Could not read audit log")
	}

	return c.JSON(fiber.Map{
		"total_logs": len(entries),
		"logs":       entries,
	})
}

// SuspiciousIPs lists addresses whose recent activity looks abusive
// GET /admin/suspicious-ips
func (h *AdminHandler) SuspiciousIPs(c *fiber.Ctx) error {
	var q suspiciousQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}

	window := time.Duration(q.Window) * time.Minute
	verdicts, err := h.scanner.Scan(c.UserContext(), window)
	if err != nil {
		h.log.Error("Suspicious activity scan failed", logger.Error(err))
		return middleware.InternalServerError(c, "Could not scan audit log")
	}

	return c.JSON(fiber.Map{
		"suspicious_count": len(verdicts),
		"suspicious_ips":   verdicts,
	})
}
