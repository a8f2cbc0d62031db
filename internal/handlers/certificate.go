package handlers

import (
	"context"
	"errors"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/neogan74/certdesk/internal/gate"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/middleware"
	"github.com/neogan74/certdesk/internal/roster"
)

// Admitter runs certificate requests through the admission gate.
type Admitter interface {
	Admit(ctx context.Context, req gate.Request) (*gate.Result, error)
}

// TokenIssuer hands out single-use security tokens.
type TokenIssuer interface {
	Issue() (string, error)
}

// CertificateHandler serves the public certificate endpoints
type CertificateHandler struct {
	gate      Admitter
	tokens    TokenIssuer
	rosters   map[roster.Kind]gate.Roster
	indexPath string
	log       logger.Logger
}

// NewCertificateHandler creates a new certificate handler
func NewCertificateHandler(g Admitter, tokens TokenIssuer, rosters map[roster.Kind]gate.Roster, indexPath string, log logger.Logger) *CertificateHandler {
	return &CertificateHandler{
		gate:      g,
		tokens:    tokens,
		rosters:   rosters,
		indexPath: indexPath,
		log:       log,
	}
}

type verifyQuery struct {
	Name string `query:"name" validate:"required,max=200"`
	ID   string `query:"student_id" validate:"required,max=100"`
}

type verifyManagementQuery struct {
	Name string `query:"name" validate:"required,max=200"`
	ID   string `query:"mgmt_id" validate:"required,max=100"`
}

type certificateQuery struct {
	Name  string `query:"name" validate:"required,max=200"`
	ID    string `query:"student_id" validate:"required,max=100"`
	Token string `query:"csrf_token" validate:"required,max=128"`
	Force bool   `query:"force"`
}

type managementCertificateQuery struct {
	Name  string `query:"name" validate:"required,max=200"`
	ID    string `query:"mgmt_id" validate:"required,max=100"`
	Token string `query:"csrf_token" validate:"required,max=128"`
	Force bool   `query:"force"`
}

// Index serves the request form
// GET /
func (h *CertificateHandler) Index(c *fiber.Ctx) error {
	page, err := os.ReadFile(h.indexPath)
	if err != nil {
		h.log.Error("Index page unavailable",
			logger.String("path", h.indexPath),
			logger.Error(err))
		return middleware.InternalServerError(c, "Template file not found")
	}
	c.Type("html", "utf-8")
	return c.Send(page)
}

// Token issues a security token for one certificate download
// GET /csrf-token
func (h *CertificateHandler) Token(c *fiber.Ctx) error {
	tok, err := h.tokens.Issue()
	if err != nil {
		h.log.Error("Failed to issue token", logger.Error(err))
		return middleware.InternalServerError(c, "Could not issue a security token")
	}
	return c.JSON(fiber.Map{"csrf_token": tok})
}

// Verify checks a student against the roster
// GET /verify
func (h *CertificateHandler) Verify(c *fiber.Ctx) error {
	var q verifyQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}

	rec, certID, err := h.lookup(roster.KindStudent, q.Name, q.ID)
	if err != nil {
		return h.lookupError(c, roster.KindStudent, err)
	}
	if rec == nil {
		return middleware.NotFound(c, "Student not found with name: "+q.Name+" and ID: "+q.ID)
	}

	return c.JSON(fiber.Map{
		"name":           rec.Name,
		"email":          rec.Email,
		"student_id":     rec.ID,
		"course":         rec.Course,
		"certificate_id": certID,
		"valid":          true,
	})
}

// VerifyManagement checks a management member against the roster
// GET /verify-management
func (h *CertificateHandler) VerifyManagement(c *fiber.Ctx) error {
	var q verifyManagementQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}

	rec, certID, err := h.lookup(roster.KindManagement, q.Name, q.ID)
	if err != nil {
		return h.lookupError(c, roster.KindManagement, err)
	}
	if rec == nil {
		return middleware.NotFound(c, "Management member not found with name: "+q.Name+" and ID: "+q.ID)
	}

	return c.JSON(fiber.Map{
		"name":           rec.Name,
		"email":          rec.Email,
		"position":       rec.Position,
		"certificate_id": certID,
		"valid":          true,
	})
}

// Certificate admits a student request and streams the PDF
// GET /certificate
func (h *CertificateHandler) Certificate(c *fiber.Ctx) error {
	var q certificateQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}
	return h.serve(c, gate.Request{
		IP:    c.IP(),
		Kind:  roster.KindStudent,
		Name:  q.Name,
		ID:    q.ID,
		Token: q.Token,
		Force: q.Force,
	})
}

// ManagementCertificate admits a management request and streams the PDF
// GET /certificate-management
func (h *CertificateHandler) ManagementCertificate(c *fiber.Ctx) error {
	var q managementCertificateQuery
	if msg, ok := parseQuery(c, &q); !ok {
		return middleware.BadRequest(c, msg)
	}
	return h.serve(c, gate.Request{
		IP:    c.IP(),
		Kind:  roster.KindManagement,
		Name:  q.Name,
		ID:    q.ID,
		Token: q.Token,
		Force: q.Force,
	})
}

func (h *CertificateHandler) serve(c *fiber.Ctx, req gate.Request) error {
	res, err := h.gate.Admit(c.UserContext(), req)
	if err != nil {
		return h.admitError(c, req.Kind, err)
	}
	if res.Decision != nil {
		middleware.SetRateLimitHeaders(c, *res.Decision)
	}

	// SendFile keeps cached handles, and a forced render replaces the file.
	f, err := os.Open(res.Path)
	if err != nil {
		middleware.GetLogger(c).Error("Rendered certificate missing",
			logger.CertificateID(res.CertificateID),
			logger.Error(err))
		return middleware.InternalServerError(c, "Error generating certificate")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return middleware.InternalServerError(c, "Error generating certificate")
	}

	middleware.GetLogger(c).Info("Certificate sent",
		logger.CertificateID(res.CertificateID),
		logger.Kind(string(req.Kind)),
		logger.Bool("rendered", res.Rendered))

	c.Attachment(res.CertificateID + ".pdf")
	return c.SendStream(f, int(info.Size()))
}

func (h *CertificateHandler) lookup(kind roster.Kind, name, id string) (*roster.Record, string, error) {
	ros, ok := h.rosters[kind]
	if !ok || ros.Lookup == nil {
		return nil, "", roster.ErrStoreUnavailable
	}
	rec, err := ros.Lookup.FindByNameAndID(name, id)
	if err != nil || rec == nil {
		return nil, "", err
	}
	return rec, roster.CertificateID(*rec, ros.Prefix), nil
}

func (h *CertificateHandler) lookupError(c *fiber.Ctx, kind roster.Kind, err error) error {
	if errors.Is(err, roster.ErrStoreUnavailable) {
		return middleware.ServiceUnavailable(c, databaseName(kind)+" database CSV not available")
	}
	middleware.GetLogger(c).Error("Roster lookup failed",
		logger.Kind(string(kind)),
		logger.Error(err))
	return middleware.InternalServerError(c, "Unexpected error while verifying "+memberName(kind))
}

func (h *CertificateHandler) admitError(c *fiber.Ctx, kind roster.Kind, err error) error {
	var rle *gate.RateLimitError
	switch {
	case errors.As(err, &rle):
		middleware.SetRateLimitHeaders(c, rle.Decision)
		middleware.SetRetryAfter(c, rle.Decision)
		return middleware.TooManyRequests(c, "Too many requests. Please wait before trying again.")
	case errors.Is(err, gate.ErrRateLimited):
		return middleware.TooManyRequests(c, "Too many requests. Please wait before trying again.")
	case errors.Is(err, gate.ErrInvalidToken):
		return middleware.Forbidden(c, "Invalid or expired security token. Please reload the page and try again.")
	case errors.Is(err, gate.ErrNotFound):
		if kind == roster.KindManagement {
			return middleware.NotFound(c, "Management member not found. Please verify the name and ID.")
		}
		return middleware.NotFound(c, "Student not found. Please verify your name and student ID.")
	case errors.Is(err, gate.ErrStoreUnavailable):
		return middleware.ServiceUnavailable(c, databaseName(kind)+" database CSV not available")
	case errors.Is(err, gate.ErrLookupFailure):
		middleware.GetLogger(c).Error("Roster lookup failed", logger.Error(err))
		return middleware.InternalServerError(c, "Unexpected error while looking up "+memberName(kind))
	case errors.Is(err, gate.ErrRenderFailure):
		middleware.GetLogger(c).Error("Certificate generation failed", logger.Error(err))
		return middleware.InternalServerError(c, "Error generating certificate")
	default:
		middleware.GetLogger(c).Error("Admission failed", logger.Error(err))
		return middleware.InternalServerError(c, "An unexpected error occurred")
	}
}

func databaseName(kind roster.Kind) string {
	if kind == roster.KindManagement {
		return "Management"
	}
	return "Student"
}

func memberName(kind roster.Kind) string {
	if kind == roster.KindManagement {
		return "management member"
	}
	return "student"
}
