package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	agentIDKey   ctxKey = "agent_id"
)

var defaultLogger *slog.Logger

// Init installs the process-wide logger. format is "json" or "text".
func Init(level slog.Level, format string) {
	InitWithWriter(os.Stdout, level, format)
}

func InitWithWriter(w io.Writer, level slog.Level, format string) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// ParseLevel maps debug/info/warn/error onto a slog level; anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Get() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, "text")
	}
	return defaultLogger
}

// WithRequestID tags ctx so every *Context log line carries the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithAgentID tags ctx with the agent a request is about.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// WithContext returns the logger enriched with the request id, agent id and
// the active trace, whichever ctx carries.
func WithContext(ctx context.Context) *slog.Logger {
	l := Get()

	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		l = l.With("request_id", requestID)
	}
	if agentID, ok := ctx.Value(agentIDKey).(string); ok && agentID != "" {
		l = l.With("agent_id", agentID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}

	return l
}

func Info(msg string, args ...any)  { Get().Info(msg, args...) }
func Error(msg string, args ...any) { Get().Error(msg, args...) }
func Warn(msg string, args ...any)  { Get().Warn(msg, args...) }
func Debug(msg string, args ...any) { Get().Debug(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).InfoContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).ErrorContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).WarnContext(ctx, msg, args...)
}

func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).DebugContext(ctx, msg, args...)
}
