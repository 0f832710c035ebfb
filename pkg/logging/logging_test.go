package logging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogSkipsEmptyFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	Log(context.Background(), logger, "checkout", Fields{
		Service:  "storefront",
		UserID:   7,
		OrderID:  42,
		Step:     "commit",
		Status:   "ok",
		Duration: 15 * time.Millisecond,
	})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries: %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["order_id"] != int64(42) || ctx["duration_ms"] != int64(15) {
		t.Fatalf("fields: %v", ctx)
	}
	if _, ok := ctx["product_id"]; ok {
		t.Fatalf("zero product_id should be omitted: %v", ctx)
	}
	if _, ok := ctx["trace_id"]; ok {
		t.Fatalf("no span, no trace id: %v", ctx)
	}
}

func TestLogErrorStatusUsesErrorLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Log(context.Background(), zap.New(core), "enqueue", Fields{Status: "error"})
	if logs.All()[0].Level != zapcore.ErrorLevel {
		t.Fatalf("level: %v", logs.All()[0].Level)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, err := New("svc", "nonsense")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) || logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected info level")
	}
}
