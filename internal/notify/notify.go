// Package notify is the notification dispatcher: producers enqueue events
// after their transaction commits, a relay or bus carries them to the
// notification service, and a Handler renders and delivers them.
//
// Delivery is at-least-once. Duplicates are suppressed on a best-effort
// basis by event id.
package notify

import (
	"context"
	"strconv"
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/outbox"
)

// Publisher hands an encoded event to a broker.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload []byte) error
}

// Sink accepts an event for eventual delivery.
type Sink interface {
	Put(ctx context.Context, ev contracts.Event, key string) error
}

// OutboxSink stores events in the postgres outbox for the Relay.
type OutboxSink struct {
	DB outbox.Execer
}

func (s OutboxSink) Put(ctx context.Context, ev contracts.Event, key string) error {
	return outbox.Insert(ctx, s.DB, ev.EventID, ev.Type, key, ev)
}

// Enqueuer is the dispatcher ingress used by checkout and the daily report.
type Enqueuer struct {
	sink      Sink
	recipient string
	now       func() time.Time
}

func NewEnqueuer(sink Sink, recipient string) *Enqueuer {
	return &Enqueuer{sink: sink, recipient: recipient, now: time.Now}
}

func (e *Enqueuer) EnqueueLowStock(ctx context.Context, ev domain.LowStockEvent) error {
	event, err := contracts.NewEvent(contracts.EventInventoryLowStock, e.recipient, contracts.LowStockPayload{
		ProductID:     int64(ev.ProductID),
		ProductName:   ev.ProductName,
		StockQuantity: ev.StockQuantity,
		OrderID:       int64(ev.OrderID),
	}, e.now())
	if err != nil {
		return err
	}
	return e.sink.Put(ctx, event, strconv.FormatInt(int64(ev.ProductID), 10))
}

func (e *Enqueuer) EnqueueDailySummary(ctx context.Context, r domain.DateRange, rows []domain.SalesSummaryRow) error {
	payload := contracts.DailySummaryPayload{From: r.From, To: r.To, Rows: make([]contracts.SummaryRow, 0, len(rows))}
	for _, row := range rows {
		payload.Rows = append(payload.Rows, contracts.SummaryRow{
			ProductID: int64(row.ProductID),
			Name:      row.Name,
			Quantity:  row.Quantity,
			Total:     row.Total,
		})
	}
	event, err := contracts.NewEvent(contracts.EventSalesDailySummary, e.recipient, payload, e.now())
	if err != nil {
		return err
	}
	return e.sink.Put(ctx, event, r.From.Format(time.DateOnly))
}
