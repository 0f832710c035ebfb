package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/notify/deliverylog"
	"github.com/nazeru/storefront-checkout-go/pkg/contracts"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
)

var errPoison = errors.New("undeliverable event")

// DeliveryLog records what was delivered.
type DeliveryLog interface {
	Record(ctx context.Context, e deliverylog.Entry) error
}

// Handler is the consumer side: decode, dedupe, render, send, record.
type Handler struct {
	dedupe  Deduper
	mailer  Mailer
	log     DeliveryLog
	logger  *zap.Logger
	service string
	now     func() time.Time
}

func NewHandler(d Deduper, m Mailer, l DeliveryLog, logger *zap.Logger) *Handler {
	return &Handler{dedupe: d, mailer: m, log: l, logger: logger, service: "notification-service", now: time.Now}
}

// Handle returns nil for poison messages so they are not redelivered forever.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	ev, err := contracts.Decode(body)
	if err != nil {
		h.logger.Warn("dropping undecodable message", zap.Error(err))
		return nil
	}
	start := time.Now()
	f := logging.Fields{Service: h.service, EventID: ev.EventID, Step: ev.Type}

	claimed, err := h.dedupe.Claim(ctx, ev.EventID)
	if err != nil {
		f.Status = "error"
		logging.Log(ctx, h.logger, "dedupe claim failed", f, zap.Error(err))
		return err
	}
	if !claimed {
		f.Status = "duplicate"
		logging.Log(ctx, h.logger, "duplicate event skipped", f)
		return nil
	}

	err = h.deliver(ctx, ev)
	if errors.Is(err, errPoison) {
		f.Status = "dropped"
		logging.Log(ctx, h.logger, "dropping undeliverable event", f, zap.Error(err))
		return nil
	}
	if err != nil {
		if rerr := h.dedupe.Release(ctx, ev.EventID); rerr != nil {
			h.logger.Warn("dedupe release failed", zap.String("event_id", ev.EventID), zap.Error(rerr))
		}
		f.Status = "error"
		logging.Log(ctx, h.logger, "delivery failed", f, zap.Error(err))
		return err
	}
	f.Status = "delivered"
	f.Duration = time.Since(start)
	logging.Log(ctx, h.logger, "notification delivered", f)
	return nil
}

func (h *Handler) deliver(ctx context.Context, ev contracts.Event) error {
	var (
		mail Mail
		err  error
	)
	switch ev.Type {
	case contracts.EventInventoryLowStock:
		var p contracts.LowStockPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("%w: low stock payload: %w", errPoison, err)
		}
		mail = RenderLowStock(ev.Recipient, p)
	case contracts.EventSalesDailySummary:
		var p contracts.DailySummaryPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return fmt.Errorf("%w: daily summary payload: %w", errPoison, err)
		}
		mail, err = RenderDailySummary(ev.Recipient, p)
		if err != nil {
			return err
		}
	default:
		h.logger.Warn("unknown event type", zap.String("event_id", ev.EventID), zap.String("type", ev.Type))
		return nil
	}

	if err := h.mailer.Send(ctx, mail); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return h.log.Record(ctx, deliverylog.Entry{
		EventID:     ev.EventID,
		EventType:   ev.Type,
		Recipient:   mail.To,
		Subject:     mail.Subject,
		DeliveredAt: h.now(),
	})
}
