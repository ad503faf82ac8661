package logger

import (
	"context"
	"strconv"
	"time"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// log discards everything until Initialize or Replace is called
	log = zap.NewNop()
	// sentryClient is set only when a DSN is configured
	sentryClient *sentry.Client
)

// Config holds logger configuration
type Config struct {
	Debug           bool
	SentryDSN       string
	SentryClient    *sentry.Client
	BreadcrumbLevel zapcore.Level
	// Tags are attached to every sentry report (service, chain, projection)
	Tags map[string]string
	// Environment is reported to sentry (production, staging, development)
	Environment string
}

// Initialize builds the process logger. With a sentry DSN, errors are also
// reported to sentry and lower levels are kept as breadcrumbs.
func Initialize(cfg Config) error {
	base, err := buildZap(cfg.Debug)
	if err != nil {
		return err
	}

	if cfg.SentryDSN == "" {
		log = base
		return nil
	}

	client := cfg.SentryClient
	if client == nil {
		client, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Debug:       cfg.Debug,
			Environment: cfg.Environment,
		})
		if err != nil {
			return err
		}
	}
	sentryClient = client

	breadcrumbLevel := cfg.BreadcrumbLevel
	if breadcrumbLevel == zapcore.InvalidLevel {
		breadcrumbLevel = zapcore.InfoLevel
	}

	core, err := zapsentry.NewCore(zapsentry.Configuration{
		Level:             zapcore.ErrorLevel,
		EnableBreadcrumbs: true,
		BreadcrumbLevel:   breadcrumbLevel,
		Tags:              cfg.Tags,
	}, zapsentry.NewSentryClientFromClient(sentryClient))
	if err != nil {
		return err
	}

	log = zapsentry.AttachCoreToLogger(core, base)
	return nil
}

func buildZap(debug bool) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if debug {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return zapConfig.Build()
}

// Replace swaps the process logger and returns a function restoring the previous one.
// Tests use it to capture log output.
func Replace(l *zap.Logger) func() {
	prev := log
	log = l
	return func() { log = prev }
}

// Flush flushes buffered sentry events
func Flush(timeout time.Duration) {
	if sentryClient != nil {
		sentryClient.Flush(timeout)
	}
}

// FromContext returns the logger bound to the sentry scope carried by ctx
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return log
	}
	return log.With(zapsentry.Context(ctx))
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

// InfoCtx logs an info message with context
func InfoCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

// WarnCtx logs a warning message with context
func WarnCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

// DebugCtx logs a debug message with context
func DebugCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Debug(msg, fields...)
}

// Error logs an error
func Error(err error, fields ...zap.Field) {
	log.Error(errorMessage(err), fields...)
}

// ErrorCtx logs an error with context
func ErrorCtx(ctx context.Context, err error, fields ...zap.Field) {
	FromContext(ctx).Error(errorMessage(err), fields...)
}

// FatalCtx logs a fatal message with context and exits
func FatalCtx(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Fatal(msg, fields...)
}

func errorMessage(err error) string {
	if err == nil {
		return "error occurred"
	}
	return err.Error()
}

// EventInfo identifies the contract event being projected
type EventInfo struct {
	Kind        string
	BlockNumber uint64
	LogIndex    uint64
	TxHash      string
}

// Fields returns the event position as log fields
func (i EventInfo) Fields() []zap.Field {
	return []zap.Field{
		zap.String("kind", i.Kind),
		zap.Uint64("block", i.BlockNumber),
		zap.Uint64("log_index", i.LogIndex),
		zap.String("tx_hash", i.TxHash),
	}
}

// WithEvent returns a context carrying a sentry hub tagged with the event,
// so errors reported while projecting it can be traced back to the log position.
func WithEvent(ctx context.Context, info EventInfo) context.Context {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub = hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("event_kind", info.Kind)
		scope.SetTag("block", strconv.FormatUint(info.BlockNumber, 10))
		scope.SetTag("log_index", strconv.FormatUint(info.LogIndex, 10))
		scope.SetTag("tx_hash", info.TxHash)
	})

	return sentry.SetHubOnContext(ctx, hub)
}

// InfoEvent logs an info message with the event position attached
func InfoEvent(ctx context.Context, info EventInfo, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, append(info.Fields(), fields...)...)
}

// WarnEvent logs a warning message with the event position attached
func WarnEvent(ctx context.Context, info EventInfo, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, append(info.Fields(), fields...)...)
}

// ErrorEvent logs an error with the event position attached
func ErrorEvent(ctx context.Context, info EventInfo, err error, fields ...zap.Field) {
	ErrorCtx(ctx, err, append(info.Fields(), fields...)...)
}
