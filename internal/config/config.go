package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Roster    RosterConfig
	Render    RenderConfig
	RateLimit RateLimitConfig
	Token     TokenConfig
	Audit     AuditConfig
	Anomaly   AnomalyConfig
	Admin     AdminConfig
	Tracing   TracingConfig
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        int
	BaseDir     string
	IndexPath   string
	ProxyHeader string
	CORSOrigins []string
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// RosterConfig points at the student and management CSV exports
type RosterConfig struct {
	StudentsPath     string
	ManagementPath   string
	StudentIDPrefix  string
	ManagementPrefix string
	// StudentFallbacks are tried in order when StudentsPath does not exist.
	StudentFallbacks []string
}

// TemplateConfig describes where and how a name is drawn on one template
type TemplateConfig struct {
	ImagePath string
	FontSize  float64
	X         float64
	Y         float64
	Color     string
}

// RenderConfig contains certificate rendering configuration
type RenderConfig struct {
	OutputDir   string
	FontPath    string
	DPI         float64
	BulkWorkers int
	Student     TemplateConfig
	Management  TemplateConfig
}

// RateLimitConfig contains sliding window rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool
	MaxRequests     int
	Window          time.Duration
	CleanupInterval time.Duration
}

// TokenConfig contains security token configuration
type TokenConfig struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// AuditConfig contains audit log configuration
type AuditConfig struct {
	Sink       string // "file", "badger", "memory"
	Dir        string
	FilePrefix string
	SyncWrites bool
	QueryLimit int
}

// AnomalyConfig contains suspicious activity thresholds
type AnomalyConfig struct {
	Window       time.Duration
	ScanWindow   time.Duration
	MaxFailures  int
	MaxSuccesses int
	HistoryLimit int
}

// AdminConfig contains the shared admin secret
type AdminConfig struct {
	Key string
}

// TracingConfig contains OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SamplingRatio  float64
	InsecureConn   bool
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	baseDir := getEnvString("CERTDESK_BASE_DIR", ".")
	studentColor := getEnvString("CERTDESK_NAME_COLOR", "#000000")

	config := &Config{
		Server: ServerConfig{
			Host:        getEnvString("CERTDESK_HOST", ""),
			Port:        getEnvInt("CERTDESK_PORT", 8000),
			BaseDir:     baseDir,
			IndexPath:   ResolvePath(baseDir, getEnvString("CERTDESK_INDEX_PATH", "templates/index.html")),
			ProxyHeader: getEnvString("CERTDESK_PROXY_HEADER", ""),
			CORSOrigins: getEnvStringSlice("CERTDESK_CORS_ALLOW_ORIGINS", []string{"*"}),
		},
		Log: LogConfig{
			Level:  getEnvString("CERTDESK_LOG_LEVEL", "info"),
			Format: getEnvString("CERTDESK_LOG_FORMAT", "text"),
		},
		Roster: RosterConfig{
			StudentsPath:     ResolvePath(baseDir, getEnvString("CERTDESK_CSV_PATH", "students.csv")),
			ManagementPath:   ResolvePath(baseDir, getEnvString("CERTDESK_MANAGEMENT_CSV_PATH", "management.csv")),
			StudentFallbacks: resolveAll(baseDir, getEnvStringSlice("CERTDESK_CSV_FALLBACKS", []string{"students.csv", "data/students.csv"})),
			StudentIDPrefix:  getEnvString("CERTDESK_CERT_ID_PREFIX", "CERT"),
			ManagementPrefix: getEnvString("CERTDESK_MGMT_CERT_ID_PREFIX", "CERT-MGMT"),
		},
		Render: RenderConfig{
			OutputDir:   ResolvePath(baseDir, getEnvString("CERTDESK_CERTIFICATES_DIR", "certificates")),
			FontPath:    resolveOptional(baseDir, getEnvString("CERTDESK_FONT_PATH", "")),
			DPI:         getEnvFloat("CERTDESK_RENDER_DPI", 300),
			BulkWorkers: getEnvInt("CERTDESK_BULK_WORKERS", 4),
			Student: TemplateConfig{
				ImagePath: ResolvePath(baseDir, getEnvString("CERTDESK_TEMPLATE_IMAGE", "templates/certificate_template.jpg")),
				FontSize:  getEnvFloat("CERTDESK_NAME_FONT_SIZE", 70),
				X:         getEnvFloat("CERTDESK_NAME_X", 250),
				Y:         getEnvFloat("CERTDESK_NAME_Y", 550),
				Color:     studentColor,
			},
			Management: TemplateConfig{
				ImagePath: ResolvePath(baseDir, getEnvString("CERTDESK_MGMT_TEMPLATE_IMAGE", "templates/CertificateManagement.jpeg")),
				FontSize:  getEnvFloat("CERTDESK_MGMT_NAME_FONT_SIZE", 55),
				X:         getEnvFloat("CERTDESK_MGMT_NAME_X", 600),
				Y:         getEnvFloat("CERTDESK_MGMT_NAME_Y", 500),
				Color:     getEnvString("CERTDESK_MGMT_NAME_COLOR", studentColor),
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:         getEnvBool("CERTDESK_RATE_LIMIT_ENABLED", true),
			MaxRequests:     getEnvInt("CERTDESK_RATE_LIMIT_MAX_REQUESTS", 5),
			Window:          getEnvDuration("CERTDESK_RATE_LIMIT_WINDOW", 60*time.Second),
			CleanupInterval: getEnvDuration("CERTDESK_RATE_LIMIT_CLEANUP", 5*time.Minute),
		},
		Token: TokenConfig{
			MaxAge:        getEnvDuration("CERTDESK_TOKEN_MAX_AGE", time.Hour),
			SweepInterval: getEnvDuration("CERTDESK_TOKEN_SWEEP_INTERVAL", 10*time.Minute),
		},
		Audit: AuditConfig{
			Sink:       getEnvString("CERTDESK_AUDIT_SINK", "file"),
			Dir:        ResolvePath(baseDir, getEnvString("CERTDESK_AUDIT_DIR", "logs")),
			FilePrefix: getEnvString("CERTDESK_AUDIT_FILE_PREFIX", "certificate_requests"),
			SyncWrites: getEnvBool("CERTDESK_AUDIT_SYNC_WRITES", true),
			QueryLimit: getEnvInt("CERTDESK_AUDIT_QUERY_LIMIT", 500),
		},
		Anomaly: AnomalyConfig{
			Window:       getEnvDuration("CERTDESK_ANOMALY_WINDOW", 10*time.Minute),
			ScanWindow:   getEnvDuration("CERTDESK_ANOMALY_SCAN_WINDOW", 60*time.Minute),
			MaxFailures:  getEnvInt("CERTDESK_ANOMALY_MAX_FAILURES", 5),
			MaxSuccesses: getEnvInt("CERTDESK_ANOMALY_MAX_SUCCESSES", 3),
			HistoryLimit: getEnvInt("CERTDESK_ANOMALY_HISTORY_LIMIT", 1000),
		},
		Admin: AdminConfig{
			Key: getEnvString("CERTDESK_ADMIN_KEY", ""),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("CERTDESK_TRACING_ENABLED", false),
			Endpoint:       getEnvString("CERTDESK_TRACING_ENDPOINT", "otel-collector:4318"),
			ServiceName:    getEnvString("CERTDESK_TRACING_SERVICE_NAME", "certdesk"),
			ServiceVersion: getEnvString("CERTDESK_TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("CERTDESK_TRACING_ENVIRONMENT", "development"),
			SamplingRatio:  getEnvFloat("CERTDESK_TRACING_SAMPLING_RATIO", 1.0),
			InsecureConn:   getEnvBool("CERTDESK_TRACING_INSECURE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Render.OutputDir == "" {
		return fmt.Errorf("certificates directory must be specified")
	}
	if c.Render.DPI <= 0 {
		return fmt.Errorf("render DPI must be positive")
	}
	if c.Render.BulkWorkers <= 0 {
		return fmt.Errorf("bulk workers must be positive")
	}
	for name, tpl := range map[string]TemplateConfig{"student": c.Render.Student, "management": c.Render.Management} {
		if tpl.FontSize <= 0 {
			return fmt.Errorf("%s name font size must be positive", name)
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate limit max requests must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	if c.Token.MaxAge <= 0 {
		return fmt.Errorf("token max age must be positive")
	}

	validSinks := map[string]bool{
		"file":   true,
		"badger": true,
		"memory": true,
	}
	if !validSinks[c.Audit.Sink] {
		return fmt.Errorf("invalid audit sink: %s (must be file, badger, or memory)", c.Audit.Sink)
	}
	if c.Audit.Sink != "memory" && c.Audit.Dir == "" {
		return fmt.Errorf("audit directory must be specified for the %s sink", c.Audit.Sink)
	}

	if c.Anomaly.Window <= 0 || c.Anomaly.ScanWindow <= 0 {
		return fmt.Errorf("anomaly windows must be positive")
	}
	if c.Anomaly.MaxFailures < 0 || c.Anomaly.MaxSuccesses < 0 {
		return fmt.Errorf("anomaly thresholds must not be negative")
	}
	if c.Anomaly.HistoryLimit <= 0 {
		return fmt.Errorf("anomaly history limit must be positive")
	}

	return nil
}

// Address returns the server address in host:port format
func (c *Config) Address() string {
	if c.Server.Host == "" {
		return fmt.Sprintf(":%d", c.Server.Port)
	}
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ResolvePath makes p absolute relative to base. Windows-style separators are
// accepted so the same env file works on every host.
func ResolvePath(base, p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), `\`, "/")
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	base = strings.ReplaceAll(base, `\`, "/")
	if abs, err := filepath.Abs(filepath.Join(base, p)); err == nil {
		return abs
	}
	return filepath.Join(base, p)
}

func resolveAll(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if r := ResolvePath(base, p); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func resolveOptional(base, p string) string {
	if strings.TrimSpace(p) == "" {
		return ""
	}
	return ResolvePath(base, p)
}

// getEnvString gets a string environment variable with a default value
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvStringSlice gets a comma-separated string environment variable as a slice with a default value
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		result := []string{}
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
