package logging

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Fields is the common record every service logs per step.
type Fields struct {
	Service   string
	UserID    int64
	OrderID   int64
	ProductID int64
	EventID   string
	Step      string
	Status    string
	Duration  time.Duration
}

// Zap returns the non-empty fields as zap fields.
func (f Fields) Zap() []zap.Field {
	out := make([]zap.Field, 0, 8)
	if f.Service != "" {
		out = append(out, zap.String("service", f.Service))
	}
	if f.UserID != 0 {
		out = append(out, zap.Int64("user_id", f.UserID))
	}
	if f.OrderID != 0 {
		out = append(out, zap.Int64("order_id", f.OrderID))
	}
	if f.ProductID != 0 {
		out = append(out, zap.Int64("product_id", f.ProductID))
	}
	if f.EventID != "" {
		out = append(out, zap.String("event_id", f.EventID))
	}
	if f.Step != "" {
		out = append(out, zap.String("step", f.Step))
	}
	if f.Status != "" {
		out = append(out, zap.String("status", f.Status))
	}
	if f.Duration > 0 {
		out = append(out, zap.Int64("duration_ms", f.Duration.Milliseconds()))
	}
	return out
}

// New builds a production JSON logger tagged with the service name.
func New(service, level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", service)), nil
}

// Log writes one step record; the trace id is attached when ctx carries a span.
func Log(ctx context.Context, logger *zap.Logger, msg string, f Fields, extra ...zap.Field) {
	fields := append(f.Zap(), extra...)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
	}
	if f.Status == "error" || f.Status == "failed" {
		logger.Error(msg, fields...)
		return
	}
	logger.Info(msg, fields...)
}
