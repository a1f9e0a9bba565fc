package common

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger returns a JSON logger for service. When cfg names a LOG_FILE the
// output is also written to a rotating file.
func NewLogger(cfg *Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	level := zerolog.InfoLevel
	service := ""
	if cfg != nil {
		service = cfg.ServiceName
		if cfg.LogFile != "" {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			})
		}
		if parsed, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
			level = parsed
		}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", service).Logger()
}

func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		logger = logger.With().Str("trace_id", sc.TraceID().String()).Logger()
	}
	if sc.HasSpanID() {
		logger = logger.With().Str("span_id", sc.SpanID().String()).Logger()
	}
	return logger
}
