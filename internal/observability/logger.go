// Package observability wires structured logging and tracing: a global
// zerolog logger enriched per-call with the active OpenTelemetry
// trace/span ids.
package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// InitLogger configures the global zerolog logger. path == "" logs to
// stdout; level accepts zerolog level names plus "warning" as an alias for
// "warn".
func InitLogger(path, level string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		out = f
	}

	lvl, err := zerolog.ParseLevel(normalizeLevel(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	logger := zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	log = logger
	return nil
}

func normalizeLevel(level string) string {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return "warn"
	}
	if level == "" {
		return "info"
	}
	return level
}

// log is the process-wide base logger; LoggerWithTrace derives from it.
var log = zerolog.New(os.Stdout).With().Timestamp().Logger()

// LoggerWithTrace returns a logger enriched with the active span's trace
// and span ids, so every log line can be joined back to a trace.
func LoggerWithTrace(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return &log
	}
	l := log.With().
		Str("trace_id", sc.TraceID().String()).
		Str("span_id", sc.SpanID().String()).
		Bool("trace_sampled", sc.IsSampled()).
		Logger()
	return &l
}
