package logging

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0xReLogic/logprobe/internal/tracing"
)

var logger *zap.Logger

// Init initializes the structured logger. Diagnostics go to stderr so stdout
// stays reserved for per-message outcome lines.
func Init(level string) error {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))

	if os.Getenv("LOGPROBE_ENV") == "development" {
		config.Development = true
		config.Encoding = "console"
		config.EncoderConfig = zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}
	}

	l, err := config.Build()
	if err != nil {
		return err
	}
	logger = l
	return nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// SetLogger replaces the global logger. Tests use it with an observer core.
func SetLogger(l *zap.Logger) {
	logger = l
}

// LogSend logs the result of a single delivery attempt.
func LogSend(ctx context.Context, endpoint, severity string, size int, latency time.Duration, err error) {
	fields := []zap.Field{
		zap.String("endpoint", endpoint),
		zap.String("severity", severity),
		zap.Int("size_bytes", size),
		zap.Duration("latency", latency),
	}
	if traceID := tracing.TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if err != nil {
		GetLogger().Warn("send_failed", append(fields, zap.Error(err))...)
		return
	}
	GetLogger().Debug("send_ok", fields...)
}

// LogModeStart logs the beginning of a sending mode.
func LogModeStart(mode, endpoint string, count int) {
	GetLogger().Info("mode_start",
		zap.String("mode", mode),
		zap.String("endpoint", endpoint),
		zap.Int("count", count),
	)
}

// LogModeDone logs the aggregate result of a sending mode.
func LogModeDone(mode string, attempts, failed int, elapsed time.Duration, err error) {
	fields := []zap.Field{
		zap.String("mode", mode),
		zap.Int("attempts", attempts),
		zap.Int("failed", failed),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	GetLogger().Info("mode_done", fields...)
}

// LogInfo logs general info messages with structured fields
func LogInfo(message string, fields map[string]interface{}) {
	GetLogger().Info(message, toFields(fields)...)
}

// LogError logs error messages with structured fields
func LogError(message string, fields map[string]interface{}) {
	GetLogger().Error(message, toFields(fields)...)
}

func toFields(fields map[string]interface{}) []zap.Field {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			zapFields = append(zapFields, zap.String(k, val))
		case int:
			zapFields = append(zapFields, zap.Int(k, val))
		case bool:
			zapFields = append(zapFields, zap.Bool(k, val))
		case float64:
			zapFields = append(zapFields, zap.Float64(k, val))
		case time.Duration:
			zapFields = append(zapFields, zap.Duration(k, val))
		case error:
			zapFields = append(zapFields, zap.NamedError(k, val))
		default:
			zapFields = append(zapFields, zap.Any(k, v))
		}
	}
	return zapFields
}

// Sync flushes any buffered log entries
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
