package anomaly

import (
	"context"
	"sort"
	"time"

	"github.com/neogan74/certdesk/internal/audit"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
)

// Verdict reasons
const (
	ReasonTooManyFailures  = "too many failures"
	ReasonTooManySuccesses = "too many successes"
	ReasonNormal           = "normal"
)

// Source is the part of the audit log the detector reads.
type Source interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Config holds the detection thresholds
type Config struct {
	Window       time.Duration
	ScanWindow   time.Duration
	MaxFailures  int
	MaxSuccesses int
	HistoryLimit int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Window:       10 * time.Minute,
		ScanWindow:   60 * time.Minute,
		MaxFailures:  5,
		MaxSuccesses: 3,
		HistoryLimit: 1000,
	}
}

// Verdict is the assessment of one IP address.
type Verdict struct {
	IP                  string `json:"ip"`
	RecentRequests      int    `json:"recent_requests"`
	FailedAttempts      int    `json:"failed_attempts"`
	SuccessfulDownloads int    `json:"successful_downloads"`
	Suspicious          bool   `json:"suspicious"`
	Reason              string `json:"reason"`
}

// Detector flags addresses whose recent audit history crosses a threshold.
type Detector struct {
	source Source
	cfg    Config
	log    logger.Logger
	now    func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a detector reading from source. Zero config values take
// the defaults.
func NewDetector(source Source, cfg Config, log logger.Logger, opts ...Option) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = def.ScanWindow
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if log == nil {
		log = logger.GetDefault()
	}

	d := &Detector{
		source: source,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Assess evaluates ip over the default window.
func (d *Detector) Assess(ctx context.Context, ip string) (Verdict, error) {
	return d.AssessWindow(ctx, ip, d.cfg.Window)
}

// AssessWindow evaluates the entries of ip whose timestamp is not before
// now-window. Entries with unparsable timestamps are ignored.
func (d *Detector) AssessWindow(ctx context.Context, ip string, window time.Duration) (Verdict, error) {
	now := d.now()
	cutoff := now.Add(-window)

	entries, err := d.source.Query(ctx, audit.Filter{
		IP:    ip,
		Limit: d.cfg.HistoryLimit,
		Since: cutoff,
	})
	if err != nil {
		return Verdict{IP: ip, Reason: ReasonNormal}, err
	}

	return d.judge(ip, entries, cutoff), nil
}

func (d *Detector) judge(ip string, entries []audit.Entry, cutoff time.Time) Verdict {
	v := Verdict{IP: ip}
	for _, e := range entries {
		t, err := e.Time()
		if err != nil || t.Before(cutoff) {
			continue
		}
		v.RecentRequests++
		switch e.Status {
		case audit.OutcomeFailed:
			v.FailedAttempts++
		case audit.OutcomeSuccess:
			v.SuccessfulDownloads++
		}
	}

	switch {
	case v.FailedAttempts > d.cfg.MaxFailures:
		v.Suspicious = true
		v.Reason = ReasonTooManyFailures
	case v.SuccessfulDownloads > d.cfg.MaxSuccesses:
		v.Suspicious = true
		v.Reason = ReasonTooManySuccesses
	default:
		v.Reason = ReasonNormal
	}
	return v
}

// Scan assesses every distinct address among the most recent entries and
// returns the suspicious ones, most failures first.
func (d *Detector) Scan(ctx context.Context, window time.Duration) ([]Verdict, error) {
	if window <= 0 {
		window = d.cfg.ScanWindow
	}

	recent, err := d.source.Query(ctx, audit.Filter{
		Limit: d.cfg.HistoryLimit,
		Since: d.now().Add(-window),
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ips []string
	for _, e := range recent {
		if e.IPAddress == "" || seen[e.IPAddress] {
			continue
		}
		seen[e.IPAddress] = true
		ips = append(ips, e.IPAddress)
	}

	suspicious := []Verdict{}
	for _, ip := range ips {
		v, err := d.AssessWindow(ctx, ip, window)
		if err != nil {
			return nil, err
		}
		if v.Suspicious {
			suspicious = append(suspicious, v)
		}
	}

	sort.SliceStable(suspicious, func(i, j int) bool {
		return suspicious[i].FailedAttempts > suspicious[j].FailedAttempts
	})
	return suspicious, nil
}

// Monitor assesses ip and logs a warning when it looks suspicious. It never
// blocks anything.
func (d *Detector) Monitor(ctx context.Context, ip string) Verdict {
	v, err := d.Assess(ctx, ip)
	if err != nil {
		d.log.Warn("Anomaly assessment failed",
			logger.ClientIP(ip),
			logger.Error(err))
		return v
	}

	if v.Suspicious {
		metrics.SuspiciousVerdictsTotal.WithLabelValues(v.Reason).Inc()
		d.log.Warn("Suspicious activity detected",
			logger.ClientIP(ip),
			logger.String("reason", v.Reason),
			logger.Int("recent_requests", v.RecentRequests),
			logger.Int("failed_attempts", v.FailedAttempts),
			logger.Int("successful_downloads", v.SuccessfulDownloads))
	}
	return v
}

// Config returns the effective thresholds.
func (d *Detector) Config() Config {
	return d.cfg
}
