package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
	"github.com/nazeru/storefront-checkout-go/pkg/outbox"
	pgtx "github.com/nazeru/storefront-checkout-go/pkg/tx"
)

// Relay moves pending outbox rows to the broker. Rows whose publish fails
// stay pending and are picked up on a later tick.
type Relay struct {
	db       pgtx.Beginner
	pub      Publisher
	batch    int
	interval time.Duration
	logger   *zap.Logger
	metrics  *metrics.RelayMetrics
}

func NewRelay(db pgtx.Beginner, pub Publisher, batch int, interval time.Duration, logger *zap.Logger, m *metrics.RelayMetrics) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{db: db, pub: pub, batch: batch, interval: interval, logger: logger, metrics: m}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("outbox relay tick failed", zap.Error(err))
			}
		}
	}
}

// Tick publishes one batch and reports how many rows were marked sent.
func (r *Relay) Tick(ctx context.Context) (int, error) {
	sent := 0
	err := pgtx.Run(ctx, r.db, pgtx.Options{}, func(tx pgx.Tx) error {
		recs, err := outbox.ClaimPending(ctx, tx, r.batch)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := r.pub.Publish(ctx, rec.Topic, rec.Key, rec.Payload); err != nil {
				r.metrics.Failed.WithLabelValues(rec.Topic).Inc()
				r.logger.Warn("outbox publish failed",
					zap.String("event_id", rec.EventID),
					zap.String("topic", rec.Topic),
					zap.Error(err))
				continue
			}
			if err := outbox.MarkSent(ctx, tx, rec.ID); err != nil {
				return err
			}
			r.metrics.Published.WithLabelValues(rec.Topic).Inc()
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
