package deliverylog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	ctx := context.Background()
	l, err := Open(filepath.Join(t.TempDir(), "deliveries.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	at := time.Date(2026, 3, 10, 23, 55, 0, 0, time.UTC)
	for _, id := range []string{"e1", "e2"} {
		if err := l.Record(ctx, Entry{EventID: id, EventType: "inventory.low_stock", Recipient: "admin@example.com", Subject: "s", DeliveredAt: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].EventID != "e2" || !got[0].DeliveredAt.Equal(at) {
		t.Fatalf("recent = %+v", got)
	}
	n, err := l.Count(ctx, "e1")
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}
