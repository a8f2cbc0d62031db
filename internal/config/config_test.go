package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 60*time.Second, cfg.RateLimit.Window)

	assert.Equal(t, time.Hour, cfg.Token.MaxAge)

	assert.Equal(t, "file", cfg.Audit.Sink)
	assert.Equal(t, "certificate_requests", cfg.Audit.FilePrefix)

	assert.Equal(t, 10*time.Minute, cfg.Anomaly.Window)
	assert.Equal(t, 5, cfg.Anomaly.MaxFailures)
	assert.Equal(t, 3, cfg.Anomaly.MaxSuccesses)
	assert.Equal(t, 1000, cfg.Anomaly.HistoryLimit)

	assert.Equal(t, float64(70), cfg.Render.Student.FontSize)
	assert.Equal(t, float64(55), cfg.Render.Management.FontSize)
	assert.Equal(t, "CERT", cfg.Roster.StudentIDPrefix)
	assert.Equal(t, "CERT-MGMT", cfg.Roster.ManagementPrefix)
	assert.True(t, filepath.IsAbs(cfg.Roster.StudentsPath))
	assert.Empty(t, cfg.Render.FontPath)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	base := t.TempDir()
	t.Setenv("CERTDESK_BASE_DIR", base)
	t.Setenv("CERTDESK_PORT", "9090")
	t.Setenv("CERTDESK_LOG_FORMAT", "json")
	t.Setenv("CERTDESK_CSV_PATH", `data\students.csv`)
	t.Setenv("CERTDESK_RATE_LIMIT_MAX_REQUESTS", "10")
	t.Setenv("CERTDESK_RATE_LIMIT_WINDOW", "2m")
	t.Setenv("CERTDESK_ANOMALY_MAX_SUCCESSES", "20")
	t.Setenv("CERTDESK_CORS_ALLOW_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CERTDESK_NAME_COLOR", "#112233")
	t.Setenv("CERTDESK_ADMIN_KEY", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, filepath.Join(base, "data", "students.csv"), cfg.Roster.StudentsPath)
	assert.Equal(t, []string{
		filepath.Join(base, "students.csv"),
		filepath.Join(base, "data", "students.csv"),
	}, cfg.Roster.StudentFallbacks)
	assert.Equal(t, 10, cfg.RateLimit.MaxRequests)
	assert.Equal(t, 2*time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 20, cfg.Anomaly.MaxSuccesses)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "#112233", cfg.Render.Student.Color)
	assert.Equal(t, "#112233", cfg.Render.Management.Color, "management color falls back to the student color")
	assert.Equal(t, "s3cret", cfg.Admin.Key)
}

func TestLoad_InvalidEnvironmentValuesFallBack(t *testing.T) {
	t.Setenv("CERTDESK_PORT", "not-a-number")
	t.Setenv("CERTDESK_TOKEN_MAX_AGE", "forever")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Token.MaxAge)
}

func TestLoad_InvalidConfigValidation(t *testing.T) {
	t.Setenv("CERTDESK_AUDIT_SINK", "s3")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"log level", func(c *Config) { c.Log.Level = "trace" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
		{"dpi", func(c *Config) { c.Render.DPI = 0 }},
		{"workers", func(c *Config) { c.Render.BulkWorkers = 0 }},
		{"font size", func(c *Config) { c.Render.Management.FontSize = -1 }},
		{"rate limit", func(c *Config) { c.RateLimit.MaxRequests = 0 }},
		{"rate window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"token age", func(c *Config) { c.Token.MaxAge = 0 }},
		{"audit dir", func(c *Config) { c.Audit.Dir = "" }},
		{"anomaly window", func(c *Config) { c.Anomaly.Window = 0 }},
		{"anomaly threshold", func(c *Config) { c.Anomaly.MaxFailures = -1 }},
		{"history", func(c *Config) { c.Anomaly.HistoryLimit = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("rate limit disabled skips its checks", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit.Enabled = false
		cfg.RateLimit.MaxRequests = 0
		assert.NoError(t, cfg.Validate())
	})

	t.Run("memory sink needs no dir", func(t *testing.T) {
		cfg := valid()
		cfg.Audit.Sink = "memory"
		cfg.Audit.Dir = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestAddress(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 8000}}
	assert.Equal(t, ":8000", cfg.Address())

	cfg.Server.Host = "127.0.0.1"
	assert.Equal(t, "127.0.0.1:8000", cfg.Address())
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "", ResolvePath("/srv", "  "))
	assert.Equal(t, "/etc/certdesk/students.csv", ResolvePath("/srv", "/etc/certdesk/students.csv"))
	assert.Equal(t, "/srv/data/students.csv", ResolvePath("/srv", `data\students.csv`))
	assert.Equal(t, "/srv/templates/index.html", ResolvePath("/srv/", "./templates/index.html"))
}
