package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every entry written by a logger built with New.
const ServiceName = "certdesk"

// ParseLevel parses string to zapcore.Level
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Field is an alias for zap.Field for interface compatibility
type Field = zap.Field

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// WithRequest scopes the logger to one HTTP request.
	WithRequest(requestID string) Logger
	// WithClient scopes the logger to the address a request came from.
	WithClient(ip string) Logger
	WithFields(fields ...Field) Logger
	// Named tags entries with the component that wrote them, such as "gate".
	Named(component string) Logger
}

// zapLogger implements Logger interface using Zap
type zapLogger struct {
	logger *zap.Logger
}

// New creates a new logger with zap. Every entry carries service=certdesk
// plus the given base fields, typically the build version.
func New(level zapcore.Level, format string, base ...Field) Logger {
	var config zap.Config

	if format == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}

	config.Level = zap.NewAtomicLevelAt(level)

	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}

	return newWithZap(logger, base...)
}

// NewFromConfig creates a logger from string configuration
func NewFromConfig(level, format string, base ...Field) Logger {
	return New(ParseLevel(level), format, base...)
}

// NewWithCore wraps an arbitrary zap core, for example an observer in tests.
func NewWithCore(core zapcore.Core, base ...Field) Logger {
	return newWithZap(zap.New(core), base...)
}

// NewNop returns a logger that discards everything. Tests use it.
func NewNop() Logger {
	return &zapLogger{logger: zap.NewNop()}
}

func newWithZap(z *zap.Logger, base ...Field) Logger {
	fields := append([]Field{zap.String("service", ServiceName)}, base...)
	return &zapLogger{logger: z.With(fields...)}
}

// Debug logs a debug message with optional fields
func (l *zapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, fields...)
}

// Info logs an info message with optional fields
func (l *zapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *zapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, fields...)
}

// Error logs an error message with optional fields
func (l *zapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, fields...)
}

// WithRequest returns a new logger with request ID field
func (l *zapLogger) WithRequest(requestID string) Logger {
	return l.WithFields(zap.String("request_id", requestID))
}

// WithClient returns a new logger with the client ip field
func (l *zapLogger) WithClient(ip string) Logger {
	return l.WithFields(ClientIP(ip))
}

// WithFields returns a new logger with additional fields
func (l *zapLogger) WithFields(fields ...Field) Logger {
	return &zapLogger{logger: l.logger.With(fields...)}
}

// Named returns a child logger tagged with the component name
func (l *zapLogger) Named(component string) Logger {
	return &zapLogger{logger: l.logger.Named(component)}
}

// Helper functions for creating fields
func String(key, value string) Field {
	return zap.String(key, value)
}

func Int(key string, value int) Field {
	return zap.Int(key, value)
}

func Bool(key string, value bool) Field {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) Field {
	return zap.Duration(key, value)
}

func Time(key string, value time.Time) Field {
	return zap.Time(key, value)
}

func Strings(key string, values []string) Field {
	return zap.Strings(key, values)
}

func Error(err error) Field {
	return zap.Error(err)
}

// Domain fields share their keys across packages so entries can be joined
// on them. Values are copied since callers often pass fiber's pooled strings.

// ClientIP is the address a request is attributed to.
func ClientIP(ip string) Field {
	return zap.String("ip", strings.Clone(ip))
}

// CertificateID names a rendered certificate file.
func CertificateID(id string) Field {
	return zap.String("certificate_id", strings.Clone(id))
}

// Kind is the roster a request targets, student or management.
func Kind(kind string) Field {
	return zap.String("kind", kind)
}

// Action is the rate limit and audit action of a request.
func Action(action string) Field {
	return zap.String("action", action)
}

// Default logger instance
var defaultLogger Logger = NewFromConfig("info", "text")

// SetDefault sets the default logger
func SetDefault(l Logger) {
	defaultLogger = l
}

// GetDefault returns the default logger instance
func GetDefault() Logger {
	return defaultLogger
}

// Global logging functions using default logger
func Debug(msg string, fields ...Field) {
	defaultLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	defaultLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	defaultLogger.Warn(msg, fields...)
}

func ErrorLog(msg string, fields ...Field) {
	defaultLogger.Error(msg, fields...)
}
