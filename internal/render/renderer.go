package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/roster"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTemplateNotFound is returned when the template image is missing.
	ErrTemplateNotFound = errors.New("template image not found")
	// ErrEmptyName is returned when there is no name to draw.
	ErrEmptyName = errors.New("name is empty")
	// ErrInvalidID is returned for certificate ids that are not a bare file name.
	ErrInvalidID = errors.New("invalid certificate id")
	// ErrUnknownKind is returned for kinds without a template.
	ErrUnknownKind = errors.New("unknown certificate kind")
)

// DefaultDPI is the resolution template images are assumed to have.
const DefaultDPI = 300

// Template describes where and how the name is drawn on one template image.
// Coordinates and font size are in template pixels.
type Template struct {
	ImagePath string
	FontSize  float64
	X         float64
	Y         float64
	Color     string
}

// Config holds renderer configuration
type Config struct {
	OutputDir string
	// FontPath is a TrueType font. Empty means the built in Helvetica Bold.
	FontPath  string
	DPI       float64
	Templates map[roster.Kind]Template
}

// Renderer draws names onto certificate templates and stores them as PDFs.
type Renderer struct {
	cfg   Config
	log   logger.Logger
	group singleflight.Group
}

// New creates a renderer and its output directory.
func New(cfg Config, log logger.Logger) (*Renderer, error) {
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultDPI
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory must be specified")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if log == nil {
		log = logger.GetDefault()
	}

	return &Renderer{cfg: cfg, log: log}, nil
}

// OutputDir returns the directory certificates are written to.
func (r *Renderer) OutputDir() string {
	return r.cfg.OutputDir
}

// Template returns the template configured for kind.
func (r *Renderer) Template(kind roster.Kind) (Template, bool) {
	t, ok := r.cfg.Templates[kind]
	return t, ok
}

// Path returns where the certificate with id is stored.
func (r *Renderer) Path(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return filepath.Join(r.cfg.OutputDir, id+".pdf"), nil
}

// Exists reports whether the certificate with id has been rendered.
func (r *Renderer) Exists(id string) bool {
	path, err := r.Path(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Render draws name on the template of kind and writes <id>.pdf, replacing
// any existing file. Concurrent renders of one id share a single result.
func (r *Renderer) Render(ctx context.Context, kind roster.Kind, name, id string) (string, error) {
	path, err := r.Path(id)
	if err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	tmpl, ok := r.cfg.Templates[kind]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	ch := r.group.DoChan(id, func() (interface{}, error) {
		start := time.Now()
		err := r.render(tmpl, name, path)

		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RenderDuration.WithLabelValues(string(kind), status).Observe(time.Since(start).Seconds())
		return path, err
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Renderer) render(tmpl Template, name, path string) error {
	color, err := ParseColor(tmpl.Color)
	if err != nil {
		return err
	}

	width, height, imageType, err := imageSize(tmpl.ImagePath)
	if err != nil {
		return err
	}

	// template pixels to PDF points
	scale := 72 / r.cfg.DPI
	pageW, pageH := float64(width)*scale, float64(height)*scale

	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: pageW, Ht: pageH},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.ImageOptions(tmpl.ImagePath, 0, 0, pageW, pageH, false,
		fpdf.ImageOptions{ImageType: imageType, ReadDpi: false}, 0, "")

	text := name
	if r.cfg.FontPath != "" {
		pdf.AddUTF8Font("certname", "", r.cfg.FontPath)
		pdf.SetFont("certname", "", tmpl.FontSize*scale)
	} else {
		pdf.SetFont("Helvetica", "B", tmpl.FontSize*scale)
		text = pdf.UnicodeTranslatorFromDescriptor("")(name)
	}

	pdf.SetTextColor(int(color.R), int(color.G), int(color.B))
	if color.A < 255 {
		pdf.SetAlpha(float64(color.A)/255, "Normal")
	}

	// Y is the top of the text, fpdf draws at the baseline
	ascent := float64(pdf.GetFontDesc("", "").Ascent) / 1000
	if ascent <= 0 {
		ascent = 0.8
	}
	size := tmpl.FontSize * scale
	pdf.Text(tmpl.X*scale, tmpl.Y*scale+size*ascent, text)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("failed to build pdf: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".render-*.pdf")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()

	if err := pdf.OutputFileAndClose(tmpName); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		r.log.Warn("Failed to set certificate permissions", logger.String("path", tmpName), logger.Error(err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to store certificate: %w", err)
	}

	r.log.Debug("Certificate rendered",
		logger.String("path", path),
		logger.Int("width", width),
		logger.Int("height", height))
	return nil
}

// imageSize returns the pixel size of the template and the fpdf image type.
func imageSize(path string) (int, int, string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0, "", fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
	}
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to open template: %w", err)
	}
	defer file.Close()

	cfg, format, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, "", fmt.Errorf("failed to decode template %s: %w", path, err)
	}

	switch format {
	case "jpeg":
		return cfg.Width, cfg.Height, "JPG", nil
	case "png":
		return cfg.Width, cfg.Height, "PNG", nil
	case "gif":
		return cfg.Width, cfg.Height, "GIF", nil
	default:
		return 0, 0, "", fmt.Errorf("unsupported template format %q", format)
	}
}
