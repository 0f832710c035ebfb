package contracts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the envelope written to the outbox and carried by the broker.
type Event struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Recipient string          `json:"recipient"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	EventInventoryLowStock = "inventory.low_stock"
	EventSalesDailySummary = "sales.daily_summary"
)

// Topics lists every event type the notification service consumes.
var Topics = []string{EventInventoryLowStock, EventSalesDailySummary}

type LowStockPayload struct {
	ProductID     int64  `json:"product_id"`
	ProductName   string `json:"product_name"`
	StockQuantity int    `json:"stock_quantity"`
	OrderID       int64  `json:"order_id,omitempty"`
}

type SummaryRow struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

type DailySummaryPayload struct {
	From time.Time    `json:"from"`
	To   time.Time    `json:"to"`
	Rows []SummaryRow `json:"rows"`
}

func NewEvent(eventType, recipient string, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Event{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Recipient: recipient,
		CreatedAt: now.UTC(),
		Payload:   data,
	}, nil
}

func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.EventID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("decode event: missing event_id or type")
	}
	return ev, nil
}
