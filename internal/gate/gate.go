package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/neogan74/certdesk/internal/anomaly"
	"github.com/neogan74/certdesk/internal/audit"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/ratelimit"
	"github.com/neogan74/certdesk/internal/roster"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Actions recorded in the audit log and used as rate limit keys.
const (
	ActionCertificate           = "get_certificate"
	ActionManagementCertificate = "get_management_certificate"
)

// ActionFor returns the admission action of kind.
func ActionFor(kind roster.Kind) string {
	if kind == roster.KindManagement {
		return ActionManagementCertificate
	}
	return ActionCertificate
}

// Limiter decides whether identity may perform action now.
type Limiter interface {
	Check(identity, action string) ratelimit.Decision
}

// Tokens consumes single-use security tokens.
type Tokens interface {
	Validate(token string) bool
}

// AuditLog records admission outcomes.
type AuditLog interface {
	Append(ctx context.Context, rec audit.Record) audit.Entry
}

// Monitor inspects an identity after a successful admission.
type Monitor interface {
	Monitor(ctx context.Context, ip string) anomaly.Verdict
}

// Renderer produces certificate files.
type Renderer interface {
	Exists(id string) bool
	Path(id string) (string, error)
	Render(ctx context.Context, kind roster.Kind, name, id string) (string, error)
}

// Roster is a lookup together with the certificate id prefix of its kind.
type Roster struct {
	Lookup roster.Lookup
	Prefix string
}

// Request is one certificate request.
type Request struct {
	IP    string
	Kind  roster.Kind
	Name  string
	ID    string
	Token string
	Force bool
}

// Result describes an admitted request.
type Result struct {
	Record        roster.Record
	CertificateID string
	Path          string
	Rendered      bool
	// Remaining is -1 when the gate has no limiter.
	Remaining int
	// Decision is the accepted rate limit check, nil without a limiter.
	Decision *ratelimit.Decision
}

// Config holds the gate dependencies. Limiter and Monitor are optional.
type Config struct {
	Limiter  Limiter
	Tokens   Tokens
	Audit    AuditLog
	Monitor  Monitor
	Renderer Renderer
	Rosters  map[roster.Kind]Roster
	// BulkWorkers bounds concurrent renders in Bulk.
	BulkWorkers int
}

// Gate runs the admission sequence for certificate requests.
type Gate struct {
	cfg    Config
	log    logger.Logger
	tracer trace.Tracer
	wg     sync.WaitGroup
}

// New creates an admission gate.
func New(cfg Config, log logger.Logger) *Gate {
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 4
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &Gate{
		cfg:    cfg,
		log:    log,
		tracer: otel.Tracer("certdesk/gate"),
	}
}

// Admit checks the rate limit, the token and the roster, in that order, and
// renders the certificate when needed. Every outcome except an unavailable
// roster is written to the audit log.
func (g *Gate) Admit(ctx context.Context, req Request) (*Result, error) {
	// Request strings may alias a pooled request buffer, and the monitor and
	// span exporter outlive the call.
	req.IP = strings.Clone(req.IP)
	req.Name = strings.Clone(req.Name)
	req.ID = strings.Clone(req.ID)

	action := ActionFor(req.Kind)
	ctx, span := g.tracer.Start(ctx, "gate.admit", trace.WithAttributes(
		attribute.String("certdesk.action", action),
		attribute.String("certdesk.kind", string(req.Kind)),
		attribute.String("client.address", req.IP),
	))
	defer span.End()

	res, err := g.admit(ctx, action, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("certdesk.certificate_id", res.CertificateID),
		attribute.Bool("certdesk.rendered", res.Rendered),
	)
	return res, nil
}

func (g *Gate) admit(ctx context.Context, action string, req Request) (*Result, error) {
	fail := func(reason string, err error) error {
		g.record(ctx, action, req.IP, req.Name, req.ID, audit.OutcomeFailed, reason)
		metrics.AdmissionsTotal.WithLabelValues(action, "failed", metricReason(err)).Inc()
		return err
	}

	remaining := -1
	var decision *ratelimit.Decision
	if g.cfg.Limiter != nil {
		d := g.cfg.Limiter.Check(req.IP, action)
		status := "allowed"
		if !d.Allowed {
			status = "rejected"
		}
		metrics.RateLimitRequestsTotal.WithLabelValues(action, status).Inc()
		if !d.Allowed {
			return nil, fail("rate limit exceeded", &RateLimitError{Decision: d})
		}
		remaining = d.Remaining
		decision = &d
	}

	if !g.cfg.Tokens.Validate(req.Token) {
		return nil, fail("invalid token", ErrInvalidToken)
	}

	ros, ok := g.cfg.Rosters[req.Kind]
	if !ok || ros.Lookup == nil {
		return nil, fmt.Errorf("%w: no roster for %q", ErrStoreUnavailable, req.Kind)
	}

	rec, err := ros.Lookup.FindByNameAndID(req.Name, req.ID)
	if errors.Is(err, roster.ErrStoreUnavailable) {
		metrics.AdmissionsTotal.WithLabelValues(action, "failed", "store unavailable").Inc()
		g.log.Error("Roster unavailable", logger.Kind(string(req.Kind)), logger.Error(err))
		return nil, err
	}
	if err != nil {
		return nil, fail(err.Error(), fmt.Errorf("%w: %w", ErrLookupFailure, err))
	}
	if rec == nil {
		return nil, fail("not found", ErrNotFound)
	}

	certID := roster.CertificateID(*rec, ros.Prefix)
	rendered := false
	if req.Force || !g.cfg.Renderer.Exists(certID) {
		if _, err := g.cfg.Renderer.Render(ctx, req.Kind, rec.Name, certID); err != nil {
			return nil, fail(err.Error(), fmt.Errorf("%w: %w", ErrRenderFailure, err))
		}
		rendered = true
		metrics.CertificatesRenderedTotal.WithLabelValues(string(req.Kind), "request").Inc()
	}

	path, err := g.cfg.Renderer.Path(certID)
	if err != nil {
		return nil, fail(err.Error(), fmt.Errorf("%w: %w", ErrRenderFailure, err))
	}

	g.record(ctx, action, req.IP, rec.Name, rec.ID, audit.OutcomeSuccess, "")
	metrics.AdmissionsTotal.WithLabelValues(action, "success", "").Inc()
	g.monitor(ctx, req.IP)

	return &Result{
		Record:        *rec,
		CertificateID: certID,
		Path:          path,
		Rendered:      rendered,
		Remaining:     remaining,
		Decision:      decision,
	}, nil
}

func (g *Gate) record(ctx context.Context, action, ip, name, id string, status audit.Outcome, reason string) {
	g.cfg.Audit.Append(ctx, audit.Record{
		IP:       ip,
		Endpoint: action,
		Name:     name,
		ID:       id,
		Status:   status,
		Reason:   reason,
	})
}

// monitor runs the anomaly check off the request path.
func (g *Gate) monitor(ctx context.Context, ip string) {
	if g.cfg.Monitor == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.cfg.Monitor.Monitor(detached, ip)
	}()
}

// Wait blocks until in-flight monitor calls have finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// metricReason keeps the reason label bounded.
func metricReason(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate limit exceeded"
	case errors.Is(err, ErrInvalidToken):
		return "invalid token"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrLookupFailure):
		return "lookup error"
	case errors.Is(err, ErrRenderFailure):
		return "render error"
	default:
		return "other"
	}
}
