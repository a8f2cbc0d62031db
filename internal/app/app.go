package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/neogan74/certdesk/internal/anomaly"
	"github.com/neogan74/certdesk/internal/audit"
	"github.com/neogan74/certdesk/internal/auth"
	"github.com/neogan74/certdesk/internal/config"
	"github.com/neogan74/certdesk/internal/gate"
	"github.com/neogan74/certdesk/internal/handlers"
	"github.com/neogan74/certdesk/internal/logger"
	"github.com/neogan74/certdesk/internal/metrics"
	"github.com/neogan74/certdesk/internal/middleware"
	"github.com/neogan74/certdesk/internal/persistence"
	"github.com/neogan74/certdesk/internal/ratelimit"
	"github.com/neogan74/certdesk/internal/render"
	"github.com/neogan74/certdesk/internal/roster"
	"github.com/neogan74/certdesk/internal/telemetry"
	"github.com/neogan74/certdesk/internal/token"
)

const shutdownTimeout = 5 * time.Second

// Builder wires certdesk application dependencies.
type Builder struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	tracerProvider *telemetry.TracerProvider
	limiter        *ratelimit.Store
	tokens         *token.Manager
	auditLog       *audit.Log
	detector       *anomaly.Detector
	renderer       *render.Renderer
	rosters        map[roster.Kind]gate.Roster
	gate           *gate.Gate
	closers        []func()
}

// NewBuilder creates a new application builder.
func NewBuilder(cfg *config.Config, version string) *Builder {
	return &Builder{cfg: cfg, version: version}
}

// Build assembles the certdesk application components.
func (b *Builder) Build(ctx context.Context) (*App, error) {
	if b.logger == nil {
		b.initLogger()
	}
	b.recordStartupMetrics()
	b.initFiber()
	b.initTracing(ctx)
	b.initMiddleware()

	if err := b.initAudit(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	if err := b.initDomain(); err != nil {
		b.cleanupOnError()
		return nil, err
	}

	b.initHandlers()

	return &App{
		cfg:      b.cfg,
		version:  b.version,
		logger:   b.logger,
		fiberApp: b.fiberApp,
		limiter:  b.limiter,
		tokens:   b.tokens,
		gate:     b.gate,
		closers:  b.closers,
	}, nil
}

// WithLogger replaces the logger built from the configuration.
func (b *Builder) WithLogger(log logger.Logger) *Builder {
	b.logger = log
	return b
}

func (b *Builder) initLogger() {
	b.logger = logger.NewFromConfig(b.cfg.Log.Level, b.cfg.Log.Format, logger.String("version", b.version))
	logger.SetDefault(b.logger)
}

func (b *Builder) recordStartupMetrics() {
	metrics.BuildInfo.WithLabelValues(b.version, runtime.Version()).Set(1)

	b.logger.Info("Starting certdesk",
		logger.String("version", b.version),
		logger.String("address", b.cfg.Address()),
		logger.String("log_level", b.cfg.Log.Level),
		logger.String("log_format", b.cfg.Log.Format),
		logger.String("audit_sink", b.cfg.Audit.Sink),
		logger.Bool("rate_limit_enabled", b.cfg.RateLimit.Enabled),
		logger.Bool("admin_enabled", b.cfg.Admin.Key != ""),
	)
}

func (b *Builder) initFiber() {
	b.fiberApp = fiber.New(fiber.Config{
		AppName:               "certdesk",
		ProxyHeader:           b.cfg.Server.ProxyHeader,
		Immutable:             true,
		ErrorHandler:          middleware.ErrorHandler,
		DisableStartupMessage: true,
	})
}

func (b *Builder) initTracing(ctx context.Context) {
	provider, err := telemetry.InitTracing(ctx, b.cfg.Tracing)
	if err != nil {
		b.logger.Error("Failed to initialize tracing", logger.Error(err))
		return
	}

	if provider.Enabled() {
		b.logger.Info("OpenTelemetry tracing initialized",
			logger.String("endpoint", b.cfg.Tracing.Endpoint),
			logger.String("service_name", b.cfg.Tracing.ServiceName),
		)

		b.addCloser(func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				b.logger.Error("Failed to shutdown tracer provider", logger.Error(err))
			}
		})
	}

	b.tracerProvider = provider
}

func (b *Builder) initMiddleware() {
	b.fiberApp.Use(recover.New(recover.Config{EnableStackTrace: b.cfg.Log.Level == "debug"}))

	// browsers reject credentialed responses for a wildcard origin
	origins := b.cfg.Server.CORSOrigins
	wildcard := len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
	corsCfg := cors.Config{
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept," + middleware.AdminKeyHeader + "," + middleware.RequestIDHeader,
		ExposeHeaders: "Content-Disposition,Retry-After,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset," + middleware.RequestIDHeader,
	}
	if wildcard {
		corsCfg.AllowOrigins = "*"
	} else {
		corsCfg.AllowOrigins = strings.Join(origins, ",")
		corsCfg.AllowCredentials = true
	}
	b.fiberApp.Use(cors.New(corsCfg))

	b.fiberApp.Use(middleware.RequestLogging(b.logger, "/health/live", "/health/ready", "/metrics"))
	b.fiberApp.Use(middleware.MetricsMiddleware())

	if b.tracerProvider != nil && b.tracerProvider.Enabled() {
		b.fiberApp.Use(middleware.TracingMiddleware(b.cfg.Tracing.ServiceName, "/metrics", "/health/live"))
	}
}

func (b *Builder) initAudit() error {
	engine, err := persistence.NewEngine(persistence.Config{
		Type:       b.cfg.Audit.Sink,
		DataDir:    b.cfg.Audit.Dir,
		FilePrefix: b.cfg.Audit.FilePrefix,
		SyncWrites: b.cfg.Audit.SyncWrites,
	}, b.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize audit storage: %w", err)
	}

	b.auditLog = audit.New(engine, b.logger.Named("audit"), audit.WithSinkName(b.cfg.Audit.Sink))

	b.addCloser(func() {
		if err := b.auditLog.Close(); err != nil {
			b.logger.Error("Failed to close audit log", logger.Error(err))
		}
	})

	b.logger.Info("Audit log ready",
		logger.String("sink", b.cfg.Audit.Sink),
		logger.String("dir", b.cfg.Audit.Dir))
	return nil
}

func (b *Builder) initDomain() error {
	if b.cfg.RateLimit.Enabled {
		b.limiter = ratelimit.NewStoreFromConfig(ratelimit.Config{
			Enabled:         b.cfg.RateLimit.Enabled,
			MaxRequests:     b.cfg.RateLimit.MaxRequests,
			Window:          b.cfg.RateLimit.Window,
			CleanupInterval: b.cfg.RateLimit.CleanupInterval,
		})

		b.logger.Info("Rate limiting enabled",
			logger.Int("max_requests", b.cfg.RateLimit.MaxRequests),
			logger.Duration("window", b.cfg.RateLimit.Window))
	}

	b.tokens = token.NewManager(b.cfg.Token.MaxAge)

	b.detector = anomaly.NewDetector(b.auditLog, anomaly.Config{
		Window:       b.cfg.Anomaly.Window,
		ScanWindow:   b.cfg.Anomaly.ScanWindow,
		MaxFailures:  b.cfg.Anomaly.MaxFailures,
		MaxSuccesses: b.cfg.Anomaly.MaxSuccesses,
		HistoryLimit: b.cfg.Anomaly.HistoryLimit,
	}, b.logger.Named("anomaly"))

	renderer, err := render.New(render.Config{
		OutputDir: b.cfg.Render.OutputDir,
		FontPath:  b.cfg.Render.FontPath,
		DPI:       b.cfg.Render.DPI,
		Templates: map[roster.Kind]render.Template{
			roster.KindStudent:    renderTemplate(b.cfg.Render.Student),
			roster.KindManagement: renderTemplate(b.cfg.Render.Management),
		},
	}, b.logger.Named("render"))
	if err != nil {
		return fmt.Errorf("failed to initialize renderer: %w", err)
	}
	b.renderer = renderer

	b.rosters = map[roster.Kind]gate.Roster{
		roster.KindStudent: {
			Lookup: roster.NewCSV(roster.KindStudent, b.cfg.Roster.StudentsPath, b.cfg.Roster.StudentFallbacks...),
			Prefix: b.cfg.Roster.StudentIDPrefix,
		},
		roster.KindManagement: {
			Lookup: roster.NewCSV(roster.KindManagement, b.cfg.Roster.ManagementPath),
			Prefix: b.cfg.Roster.ManagementPrefix,
		},
	}

	gateCfg := gate.Config{
		Tokens:      b.tokens,
		Audit:       b.auditLog,
		Monitor:     b.detector,
		Renderer:    b.renderer,
		Rosters:     b.rosters,
		BulkWorkers: b.cfg.Render.BulkWorkers,
	}
	if b.limiter != nil {
		gateCfg.Limiter = b.limiter
	}
	b.gate = gate.New(gateCfg, b.logger.Named("gate"))

	return nil
}

func renderTemplate(t config.TemplateConfig) render.Template {
	return render.Template{
		ImagePath: t.ImagePath,
		FontSize:  t.FontSize,
		X:         t.X,
		Y:         t.Y,
		Color:     t.Color,
	}
}

func (b *Builder) initHandlers() {
	certHandler := handlers.NewCertificateHandler(b.gate, b.tokens, b.rosters, b.cfg.Server.IndexPath, b.logger)
	adminHandler := handlers.NewAdminHandler(b.gate, b.auditLog, b.detector, b.cfg.Audit.QueryLimit, b.logger)
	rateLimitHandler := handlers.NewRateLimitHandler(b.limiter, b.logger)

	paths := handlers.HealthPaths{
		StudentsCSV:        b.cfg.Roster.StudentsPath,
		ManagementCSV:      b.cfg.Roster.ManagementPath,
		StudentTemplate:    b.cfg.Render.Student.ImagePath,
		ManagementTemplate: b.cfg.Render.Management.ImagePath,
		CertificatesDir:    b.cfg.Render.OutputDir,
	}
	var windows handlers.WindowCounter
	if b.limiter != nil {
		windows = b.limiter
	}
	healthHandler := handlers.NewHealthHandler(paths, b.tokens, windows, b.version)

	b.fiberApp.Get("/", certHandler.Index)
	b.fiberApp.Get("/health", healthHandler.Check)
	b.fiberApp.Get("/health/live", healthHandler.Liveness)
	b.fiberApp.Get("/health/ready", healthHandler.Readiness)

	b.fiberApp.Get("/csrf-token", certHandler.Token)
	b.fiberApp.Get("/verify", middleware.RateLimit(b.limiter, "verify"), certHandler.Verify)
	b.fiberApp.Get("/verify-management", middleware.RateLimit(b.limiter, "verify"), certHandler.VerifyManagement)
	b.fiberApp.Get("/certificate", certHandler.Certificate)
	b.fiberApp.Get("/certificate-management", certHandler.ManagementCertificate)

	requireAdmin := middleware.AdminKey(auth.NewAdminKey(b.cfg.Admin.Key))
	b.fiberApp.Get("/generate-all", requireAdmin, adminHandler.GenerateAll)
	b.fiberApp.Get("/generate-all-management", requireAdmin, adminHandler.GenerateAllManagement)

	admin := b.fiberApp.Group("/admin", requireAdmin)
	admin.Get("/logs", adminHandler.Logs)
	admin.Get("/suspicious-ips", adminHandler.SuspiciousIPs)
	admin.Get("/ratelimit/stats", rateLimitHandler.GetStats)
	admin.Get("/ratelimit/client/:ip/:action", rateLimitHandler.GetClientStatus)
	admin.Post("/ratelimit/reset/:ip", rateLimitHandler.ResetIP)
	admin.Post("/ratelimit/reset", rateLimitHandler.ResetAll)

	b.fiberApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func (b *Builder) addCloser(closer func()) {
	b.closers = append(b.closers, closer)
}

func (b *Builder) cleanupOnError() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// App represents a configured certdesk application ready to run.
type App struct {
	cfg            *config.Config
	version        string
	logger         logger.Logger
	fiberApp       *fiber.App
	limiter        *ratelimit.Store
	tokens         *token.Manager
	gate           *gate.Gate
	closers        []func()
	backgroundStop []func()
}

// Fiber returns the HTTP application, used by tests.
func (a *App) Fiber() *fiber.App {
	return a.fiberApp
}

// Run starts the certdesk application and handles graceful shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.logger.Info("Server starting", logger.String("address", a.cfg.Address()))
	a.startBackgroundTasks()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.fiberApp.Listen(a.cfg.Address())
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Failed to start server", logger.Error(err))
			a.Close()
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server...")

	if err := a.fiberApp.ShutdownWithTimeout(shutdownTimeout); err != nil {
		a.logger.Error("Server forced to shutdown", logger.Error(err))
	}

	a.Close()

	if err := <-serverErr; err != nil {
		return err
	}

	a.logger.Info("Server exited gracefully")
	return nil
}

// Close stops background tasks, waits for pending anomaly checks and
// releases storage. It is safe to call more than once.
func (a *App) Close() {
	a.stopBackgroundTasks()
	a.gate.Wait()
	a.runClosers()
}

func (a *App) startBackgroundTasks() {
	if a.limiter != nil {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			a.limiter.Run(ctx)
		}()
		a.backgroundStop = append(a.backgroundStop, func() {
			cancel()
			<-done
		})
		a.backgroundStop = append(a.backgroundStop, a.startRateLimitMetrics())
	}

	a.backgroundStop = append(a.backgroundStop, a.startTokenSweep())
}

func (a *App) stopBackgroundTasks() {
	for i := len(a.backgroundStop) - 1; i >= 0; i-- {
		a.backgroundStop[i]()
	}
	a.backgroundStop = nil
}

func (a *App) startTokenSweep() func() {
	stop := make(chan struct{})
	interval := a.cfg.Token.SweepInterval
	if interval <= 0 {
		return func() {}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if count := a.tokens.Sweep(); count > 0 {
					a.logger.Debug("Evicted expired tokens", logger.Int("count", count))
				}
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}

func (a *App) startRateLimitMetrics() func() {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				metrics.RateLimitActiveKeys.Set(float64(a.limiter.Count()))
			case <-stop:
				return
			}
		}
	}()

	return func() { close(stop) }
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
