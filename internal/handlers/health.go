package handlers

import (
	"os"
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthPaths are the files the service needs at runtime
type HealthPaths struct {
	StudentsCSV        string
	ManagementCSV      string
	StudentTemplate    string
	ManagementTemplate string
	CertificatesDir    string
}

// TokenCounter reports how many tokens are live
type TokenCounter interface {
	Len() int
}

// WindowCounter reports how many rate limit windows are tracked
type WindowCounter interface {
	Count() int
}

// HealthStatus represents the health status of the service
type HealthStatus struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Uptime    string       `json:"uptime"`
	Timestamp time.Time    `json:"timestamp"`
	Paths     PathsHealth  `json:"paths"`
	Tokens    int          `json:"live_tokens"`
	RateLimit int          `json:"rate_limit_windows"`
	System    SystemHealth `json:"system"`
}

// PathsHealth reports each configured path and whether it exists
type PathsHealth struct {
	CSV                      string `json:"csv"`
	CSVExists                bool   `json:"csv_exists"`
	ManagementCSV            string `json:"management_csv"`
	ManagementCSVExists      bool   `json:"management_csv_exists"`
	TemplateImage            string `json:"template_image"`
	TemplateExists           bool   `json:"template_exists"`
	ManagementTemplate       string `json:"management_template_image"`
	ManagementTemplateExists bool   `json:"management_template_exists"`
	CertificatesDir          string `json:"certificates_dir"`
	CertificatesDirExists    bool   `json:"certificates_dir_exists"`
}

type SystemHealth struct {
	Goroutines  int    `json:"goroutines"`
	MemoryAlloc uint64 `json:"memory_alloc_bytes"`
	MemorySys   uint64 `json:"memory_sys_bytes"`
	NumGC       uint32 `json:"num_gc"`
}

// HealthHandler handles health check operations
type HealthHandler struct {
	paths     HealthPaths
	tokens    TokenCounter
	limiter   WindowCounter
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler. tokens and limiter may be nil.
func NewHealthHandler(paths HealthPaths, tokens TokenCounter, limiter WindowCounter, version string) *HealthHandler {
	return &HealthHandler{
		paths:     paths,
		tokens:    tokens,
		limiter:   limiter,
		startTime: time.Now(),
		version:   version,
	}
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	status := HealthStatus{
		Status:    "running",
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now(),
		Paths: PathsHealth{
			CSV:                      h.paths.StudentsCSV,
			CSVExists:                exists(h.paths.StudentsCSV),
			ManagementCSV:            h.paths.ManagementCSV,
			ManagementCSVExists:      exists(h.paths.ManagementCSV),
			TemplateImage:            h.paths.StudentTemplate,
			TemplateExists:           exists(h.paths.StudentTemplate),
			ManagementTemplate:       h.paths.ManagementTemplate,
			ManagementTemplateExists: exists(h.paths.ManagementTemplate),
			CertificatesDir:          h.paths.CertificatesDir,
			CertificatesDirExists:    exists(h.paths.CertificatesDir),
		},
		System: SystemHealth{
			Goroutines:  runtime.NumGoroutine(),
			MemoryAlloc: m.Alloc,
			MemorySys:   m.Sys,
			NumGC:       m.NumGC,
		},
	}
	if h.tokens != nil {
		status.Tokens = h.tokens.Len()
	}
	if h.limiter != nil {
		status.RateLimit = h.limiter.Count()
	}

	return c.JSON(status)
}

// Liveness is a simple liveness probe
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "alive",
		"timestamp": time.Now(),
	})
}

// Readiness reports ready once the student roster, its template and the
// output directory are in place
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	required := []struct{ name, path string }{
		{"csv", h.paths.StudentsCSV},
		{"template_image", h.paths.StudentTemplate},
		{"certificates_dir", h.paths.CertificatesDir},
	}
	missing := []string{}
	for _, r := range required {
		if !exists(r.path) {
			missing = append(missing, r.name)
		}
	}

	if len(missing) > 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":    "not ready",
			"missing":   missing,
			"timestamp": time.Now(),
		})
	}

	return c.JSON(fiber.Map{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

func exists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
