// Package checkout turns a user's cart into a paid order.
//
// Phases 1-3 (lock, validate, write) run inside one store transaction.
// Low-stock notifications are enqueued only after that transaction has
// committed; a failed enqueue is logged and never undoes the sale.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/inventory"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
	"github.com/nazeru/storefront-checkout-go/pkg/logging"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

// Engine is what the HTTP layer depends on.
type Engine interface {
	Checkout(ctx context.Context, userID domain.UserID, opts Options) (Result, error)
}

// Notifier is the ingress of the notification dispatcher.
type Notifier interface {
	EnqueueLowStock(ctx context.Context, ev domain.LowStockEvent) error
}

type Options struct {
	// IdempotencyKey makes a resubmitted checkout return the first order.
	IdempotencyKey string
}

type Result struct {
	Order    domain.Order
	LowStock []domain.LowStockEvent
	Replayed bool
}

type Config struct {
	LowStockThreshold int
	// NotifyTimeout bounds each post-commit enqueue.
	NotifyTimeout time.Duration
}

type Orchestrator struct {
	store    store.Store
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	metrics  *metrics.CheckoutMetrics
	tracer   trace.Tracer
	now      func() time.Time
}

var _ Engine = (*Orchestrator)(nil)

func New(st store.Store, n Notifier, cfg Config, logger *zap.Logger, m *metrics.CheckoutMetrics) *Orchestrator {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	return &Orchestrator{
		store:    st,
		notifier: n,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("storefront/checkout"),
		now:      time.Now,
	}
}

func (o *Orchestrator) Checkout(ctx context.Context, userID domain.UserID, opts Options) (res Result, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "checkout", trace.WithAttributes(attribute.Int64("user.id", int64(userID))))
	defer func() {
		outcome := outcomeOf(res, err)
		elapsed := time.Since(start)
		o.metrics.Outcomes.WithLabelValues(outcome).Inc()
		o.metrics.LatencyMS.Observe(float64(elapsed.Milliseconds()))
		span.SetAttributes(attribute.String("checkout.outcome", outcome))
		if err != nil && outcome == metrics.OutcomeError {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		f := logging.Fields{
			Service:  "storefront",
			UserID:   int64(userID),
			OrderID:  int64(res.Order.ID),
			Step:     "checkout",
			Status:   outcome,
			Duration: elapsed,
		}
		if outcome == metrics.OutcomeError {
			f.Status = "error"
			logging.Log(ctx, o.logger, "checkout failed", f, zap.Error(err))
			return
		}
		logging.Log(ctx, o.logger, "checkout finished", f)
	}()

	key := opts.IdempotencyKey
	if key != "" {
		order, ok, err := o.replay(ctx, userID, key)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{Order: order, Replayed: true}, nil
		}
	}

	// 1) snapshot outside the transaction; an empty cart never opens one
	items, err := o.store.CartItems(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		return Result{}, domain.ErrEmptyCart
	}

	var (
		order domain.Order
		low   []domain.LowStockEvent
	)
	err = o.store.WithinTx(ctx, func(tx store.Tx) error {
		var txErr error
		order, low, txErr = o.place(ctx, tx, userID, key)
		return txErr
	})
	// Another request with the same key committed first: either it cleared the
	// cart while we waited on the cart lock, or it recorded the key before us.
	if key != "" && (errors.Is(err, store.ErrDuplicateKey) || errors.Is(err, domain.ErrEmptyCart)) {
		winner, ok, rerr := o.replay(ctx, userID, key)
		if rerr != nil {
			return Result{}, rerr
		}
		if ok {
			return Result{Order: winner, Replayed: true}, nil
		}
		if errors.Is(err, store.ErrDuplicateKey) {
			return Result{}, fmt.Errorf("checkout: %w: idempotency key race", domain.ErrConcurrencyConflict)
		}
	}
	if err != nil {
		return Result{}, err
	}

	// 4) post-commit
	events := DedupeLowStock(low)
	o.notify(ctx, userID, events)
	return Result{Order: order, LowStock: events}, nil
}

func (o *Orchestrator) place(ctx context.Context, tx store.Tx, userID domain.UserID, key string) (domain.Order, []domain.LowStockEvent, error) {
	rows, err := tx.LockCart(ctx, userID)
	if err != nil {
		return domain.Order{}, nil, err
	}
	// the cart may have been emptied by a concurrent checkout of the same user
	if len(rows) == 0 {
		return domain.Order{}, nil, domain.ErrEmptyCart
	}

	ledger := inventory.NewLedger(tx)
	ids := make([]domain.ProductID, 0, len(rows))
	for _, it := range rows {
		ids = append(ids, it.ProductID)
	}
	snaps, err := ledger.LockAll(ctx, ids)
	if err != nil {
		return domain.Order{}, nil, err
	}

	// 2) validate everything before the first write
	requested := make(map[domain.ProductID]int, len(snaps))
	for _, it := range rows {
		snap := snaps[it.ProductID]
		requested[it.ProductID] += it.Quantity
		if requested[it.ProductID] > snap.StockQuantity {
			return domain.Order{}, nil, &domain.StockError{
				ProductID:   snap.ID,
				ProductName: snap.Name,
				Requested:   requested[it.ProductID],
				Available:   snap.StockQuantity,
			}
		}
	}

	// 3) write order, items and stock
	order, err := tx.CreateOrder(ctx, userID, domain.OrderStatusPaid, o.now())
	if err != nil {
		return domain.Order{}, nil, err
	}
	total := decimal.Zero
	var low []domain.LowStockEvent
	for _, it := range rows {
		snap := snaps[it.ProductID]
		item, err := tx.CreateOrderItem(ctx, domain.OrderItem{
			OrderID:     order.ID,
			ProductID:   snap.ID,
			ProductName: snap.Name,
			Quantity:    it.Quantity,
			UnitPrice:   snap.Price,
			Subtotal:    domain.LineSubtotal(snap.Price, it.Quantity),
		})
		if err != nil {
			return domain.Order{}, nil, err
		}
		remaining, err := ledger.Decrement(ctx, snap.ID, it.Quantity)
		if err != nil {
			return domain.Order{}, nil, err
		}
		total = total.Add(item.Subtotal)
		order.Items = append(order.Items, item)
		if remaining <= o.cfg.LowStockThreshold {
			low = append(low, domain.LowStockEvent{
				ProductID:     snap.ID,
				ProductName:   snap.Name,
				StockQuantity: remaining,
				OrderID:       order.ID,
			})
		}
	}
	if err := tx.SetOrderTotal(ctx, order.ID, total); err != nil {
		return domain.Order{}, nil, err
	}
	order.Total = total
	if err := tx.ClearCart(ctx, userID); err != nil {
		return domain.Order{}, nil, err
	}
	if key != "" {
		if err := tx.RecordIdempotencyKey(ctx, userID, key, order.ID); err != nil {
			return domain.Order{}, nil, err
		}
	}
	return order, low, nil
}

func (o *Orchestrator) replay(ctx context.Context, userID domain.UserID, key string) (domain.Order, bool, error) {
	id, err := o.store.OrderIDByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, err
	}
	order, err := o.store.Order(ctx, userID, id)
	if err != nil {
		return domain.Order{}, false, err
	}
	return order, true, nil
}

// notify runs after commit, so it is detached from request cancellation.
func (o *Orchestrator) notify(ctx context.Context, userID domain.UserID, events []domain.LowStockEvent) {
	base := context.WithoutCancel(ctx)
	for _, ev := range events {
		o.metrics.LowStock.Inc()
		nctx, cancel := context.WithTimeout(base, o.cfg.NotifyTimeout)
		err := o.notifier.EnqueueLowStock(nctx, ev)
		cancel()
		if err != nil {
			o.metrics.NotifyFailures.Inc()
			logging.Log(ctx, o.logger, "low stock enqueue failed", logging.Fields{
				Service:   "storefront",
				UserID:    int64(userID),
				OrderID:   int64(ev.OrderID),
				ProductID: int64(ev.ProductID),
				Step:      "notify",
				Status:    "error",
			}, zap.Error(err))
		}
	}
}

// DedupeLowStock keeps the first event per product, in first-seen order.
func DedupeLowStock(events []domain.LowStockEvent) []domain.LowStockEvent {
	if len(events) == 0 {
		return nil
	}
	seen := make(map[domain.ProductID]int, len(events))
	out := make([]domain.LowStockEvent, 0, len(events))
	for _, ev := range events {
		if i, ok := seen[ev.ProductID]; ok {
			// later rows see the lower stock
			out[i].StockQuantity = ev.StockQuantity
			continue
		}
		seen[ev.ProductID] = len(out)
		out = append(out, ev)
	}
	return out
}

func outcomeOf(res Result, err error) string {
	switch {
	case err == nil && res.Replayed:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomePlaced
	case errors.Is(err, domain.ErrEmptyCart):
		return metrics.OutcomeEmptyCart
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.OutcomeInsufficientStock
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
