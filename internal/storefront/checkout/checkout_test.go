package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/store/memory"
	"github.com/nazeru/storefront-checkout-go/pkg/metrics"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.LowStockEvent
	err    error
}

func (n *recordingNotifier) EnqueueLowStock(_ context.Context, ev domain.LowStockEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *recordingNotifier) Events() []domain.LowStockEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.LowStockEvent(nil), n.events...)
}

// countingStore counts transactions and can hide the first idempotency lookup.
type countingStore struct {
	store.Store
	mu        sync.Mutex
	txCount   int
	missFirst bool
}

func (c *countingStore) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	c.mu.Lock()
	c.txCount++
	c.mu.Unlock()
	return c.Store.WithinTx(ctx, fn)
}

func (c *countingStore) OrderIDByIdempotencyKey(ctx context.Context, userID domain.UserID, key string) (domain.OrderID, error) {
	c.mu.Lock()
	miss := c.missFirst
	c.missFirst = false
	c.mu.Unlock()
	if miss {
		return 0, domain.ErrNotFound
	}
	return c.Store.OrderIDByIdempotencyKey(ctx, userID, key)
}

type harness struct {
	mem      *memory.Store
	st       *countingStore
	notifier *recordingNotifier
	metrics  *metrics.CheckoutMetrics
	orch     *Orchestrator
}

func newHarness(t *testing.T, lockTimeout time.Duration) *harness {
	t.Helper()
	mem := memory.New(lockTimeout)
	h := &harness{
		mem:      mem,
		st:       &countingStore{Store: mem},
		notifier: &recordingNotifier{},
		metrics:  metrics.NewCheckoutMetrics(prometheus.NewRegistry()),
	}
	h.orch = New(h.st, h.notifier, Config{LowStockThreshold: 5}, zap.NewNop(), h.metrics)
	return h
}

func (h *harness) addToCart(t *testing.T, user domain.UserID, p domain.Product, qty int) {
	t.Helper()
	if _, err := h.mem.InsertCartItem(context.Background(), user, p.ID, qty); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
}

func (h *harness) stock(t *testing.T, id domain.ProductID) int {
	t.Helper()
	p, err := h.mem.Product(context.Background(), id)
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	return p.StockQuantity
}

func TestCheckoutTotalsAndStock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	a := h.mem.AddProduct("Canvas Backpack", decimal.RequireFromString("54.99"), 10)
	b := h.mem.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 8)
	h.addToCart(t, 1, a, 2)
	h.addToCart(t, 1, b, 1)

	res, err := h.orch.Checkout(ctx, 1, Options{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !res.Order.Total.Equal(decimal.RequireFromString("139.48")) {
		t.Fatalf("total = %s", res.Order.Total)
	}
	if !res.Order.Total.Equal(domain.SumSubtotals(res.Order.Items)) {
		t.Fatalf("total %s != sum of subtotals", res.Order.Total)
	}
	if res.Order.Status != domain.OrderStatusPaid {
		t.Fatalf("status = %s", res.Order.Status)
	}
	if got := h.stock(t, a.ID); got != 8 {
		t.Fatalf("stock A = %d", got)
	}
	if got := h.stock(t, b.ID); got != 7 {
		t.Fatalf("stock B = %d", got)
	}
	items, _ := h.mem.CartItems(ctx, 1)
	if len(items) != 0 {
		t.Fatalf("cart not cleared: %v", items)
	}
	if len(res.LowStock) != 0 || len(h.notifier.Events()) != 0 {
		t.Fatalf("unexpected low stock: %v", res.LowStock)
	}
	if got := testutil.ToFloat64(h.metrics.Outcomes.WithLabelValues(metrics.OutcomePlaced)); got != 1 {
		t.Fatalf("placed counter = %v", got)
	}
}

func TestCheckoutEmptyCartOpensNoTransaction(t *testing.T) {
	h := newHarness(t, time.Second)

	_, err := h.orch.Checkout(context.Background(), 1, Options{})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}
	if h.st.txCount != 0 {
		t.Fatalf("transactions opened: %d", h.st.txCount)
	}
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	a := h.mem.AddProduct("Canvas Backpack", decimal.RequireFromString("54.99"), 10)
	b := h.mem.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 3)
	h.addToCart(t, 1, a, 2)
	h.addToCart(t, 1, b, 5)

	_, err := h.orch.Checkout(ctx, 1, Options{})
	var se *domain.StockError
	if !errors.As(err, &se) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if se.ProductName != "Desk Lamp" || err.Error() != "Insufficient stock for Desk Lamp." {
		t.Fatalf("stock error = %q", err.Error())
	}
	if h.stock(t, a.ID) != 10 || h.stock(t, b.ID) != 3 {
		t.Fatal("stock changed on failed checkout")
	}
	if h.mem.OrderCount() != 0 || len(h.mem.OrderItems()) != 0 {
		t.Fatal("order persisted on failed checkout")
	}
	items, _ := h.mem.CartItems(ctx, 1)
	if len(items) != 2 || items[0].Quantity != 2 || items[1].Quantity != 5 {
		t.Fatalf("cart changed: %+v", items)
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5*time.Second)
	p := h.mem.AddProduct("Wireless Earbuds", decimal.RequireFromString("79.00"), 5)
	h.addToCart(t, 1, p, 3)
	h.addToCart(t, 2, p, 3)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []domain.UserID{1, 2} {
		wg.Add(1)
		go func(i int, user domain.UserID) {
			defer wg.Done()
			_, errs[i] = h.orch.Checkout(ctx, user, Options{})
		}(i, user)
	}
	wg.Wait()

	var ok, short int
	loser := domain.UserID(0)
	for i, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			short++
			loser = domain.UserID(i + 1)
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || short != 1 {
		t.Fatalf("ok=%d short=%d", ok, short)
	}
	if got := h.stock(t, p.ID); got != 2 {
		t.Fatalf("stock = %d", got)
	}
	sold := 0
	for _, it := range h.mem.OrderItems() {
		sold += it.Quantity
	}
	if sold != 3 {
		t.Fatalf("sold = %d", sold)
	}
	items, _ := h.mem.CartItems(ctx, loser)
	if len(items) != 1 || items[0].Quantity != 3 {
		t.Fatalf("loser cart = %+v", items)
	}
}

func TestCheckoutLockTimeoutIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 30*time.Millisecond)
	p := h.mem.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 8)
	h.addToCart(t, 1, p, 1)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.mem.WithinTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockProduct(ctx, p.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := h.orch.Checkout(ctx, 1, Options{})
	close(release)
	<-done

	if !errors.Is(err, domain.ErrConcurrencyConflict) || !domain.IsRetryable(err) {
		t.Fatalf("expected retryable conflict, got %v", err)
	}
	if h.stock(t, p.ID) != 8 || h.mem.OrderCount() != 0 {
		t.Fatal("conflict left side effects")
	}
	items, _ := h.mem.CartItems(ctx, 1)
	if len(items) != 1 {
		t.Fatalf("cart = %+v", items)
	}
	if got := testutil.ToFloat64(h.metrics.Outcomes.WithLabelValues(metrics.OutcomeConflict)); got != 1 {
		t.Fatalf("conflict counter = %v", got)
	}
}

func TestLowStockNotifiedOncePerProductAfterCommit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	a := h.mem.AddProduct("Wireless Earbuds", decimal.RequireFromString("79.00"), 6)
	b := h.mem.AddProduct("Ceramic Mug Set", decimal.RequireFromString("24.00"), 20)
	h.addToCart(t, 1, a, 2)
	h.addToCart(t, 1, b, 1)

	res, err := h.orch.Checkout(ctx, 1, Options{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	events := h.notifier.Events()
	if len(events) != 1 {
		t.Fatalf("events = %+v", events)
	}
	if events[0].ProductID != a.ID || events[0].StockQuantity != 4 || events[0].OrderID != res.Order.ID {
		t.Fatalf("event = %+v", events[0])
	}
}

func TestNotifyFailureDoesNotFailCheckout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	h.notifier.err = errors.New("broker down")
	p := h.mem.AddProduct("Wireless Earbuds", decimal.RequireFromString("79.00"), 5)
	h.addToCart(t, 1, p, 1)

	res, err := h.orch.Checkout(ctx, 1, Options{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if h.mem.OrderCount() != 1 || len(res.LowStock) != 1 {
		t.Fatalf("order not kept: %+v", res)
	}
	if got := testutil.ToFloat64(h.metrics.NotifyFailures); got != 1 {
		t.Fatalf("notify failures = %v", got)
	}
}

func TestCheckoutLocksPriceAtPurchase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	p := h.mem.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 8)
	h.addToCart(t, 1, p, 2)

	res, err := h.orch.Checkout(ctx, 1, Options{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	h.mem.SetPrice(p.ID, decimal.RequireFromString("35.00"))

	got, err := h.mem.Order(ctx, 1, res.Order.ID)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !got.Items[0].UnitPrice.Equal(decimal.RequireFromString("29.50")) || !got.Total.Equal(decimal.RequireFromString("59.00")) {
		t.Fatalf("order = %+v", got)
	}
}

func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	p := h.mem.AddProduct("Ceramic Mug Set", decimal.RequireFromString("24.00"), 20)
	h.addToCart(t, 1, p, 1)

	first, err := h.orch.Checkout(ctx, 1, Options{IdempotencyKey: "k-1"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	h.addToCart(t, 1, p, 4)

	second, err := h.orch.Checkout(ctx, 1, Options{IdempotencyKey: "k-1"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Fatalf("expected replay of %d, got %+v", first.Order.ID, second)
	}
	if h.stock(t, p.ID) != 19 {
		t.Fatalf("stock = %d", h.stock(t, p.ID))
	}
	items, _ := h.mem.CartItems(ctx, 1)
	if len(items) != 1 || items[0].Quantity != 4 {
		t.Fatalf("cart = %+v", items)
	}
}

// gateStore holds every caller after its cart snapshot until all of them
// have taken one, so they enter their transactions together.
type gateStore struct {
	store.Store
	arrived sync.WaitGroup
}

func newGateStore(st store.Store, callers int) *gateStore {
	g := &gateStore{Store: st}
	g.arrived.Add(callers)
	return g
}

func (g *gateStore) CartItems(ctx context.Context, userID domain.UserID) ([]domain.CartItem, error) {
	items, err := g.Store.CartItems(ctx, userID)
	g.arrived.Done()
	g.arrived.Wait()
	return items, err
}

func TestConcurrentSameKeyReturnsOneOrder(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(time.Second)
	p := mem.AddProduct("Ceramic Mug Set", decimal.RequireFromString("24.00"), 20)
	if _, err := mem.InsertCartItem(ctx, 1, p.ID, 2); err != nil {
		t.Fatal(err)
	}
	orch := New(newGateStore(mem, 2), &recordingNotifier{}, Config{LowStockThreshold: 5}, zap.NewNop(),
		metrics.NewCheckoutMetrics(prometheus.NewRegistry()))

	var (
		wg      sync.WaitGroup
		results [2]Result
		errs    [2]error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = orch.Checkout(ctx, 1, Options{IdempotencyKey: "same"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("checkout %d: %v", i, err)
		}
	}
	if results[0].Order.ID == 0 || results[0].Order.ID != results[1].Order.ID {
		t.Fatalf("orders differ: %d vs %d", results[0].Order.ID, results[1].Order.ID)
	}
	if results[0].Replayed == results[1].Replayed {
		t.Fatalf("expected exactly one replay, got %v and %v", results[0].Replayed, results[1].Replayed)
	}
	if mem.OrderCount() != 1 {
		t.Fatalf("orders = %d", mem.OrderCount())
	}
	if got, _ := mem.Product(ctx, p.ID); got.StockQuantity != 18 {
		t.Fatalf("stock = %d", got.StockQuantity)
	}
}

func TestEmptyCartWithUnknownKeyStaysEmpty(t *testing.T) {
	h := newHarness(t, time.Second)
	_, err := h.orch.Checkout(context.Background(), 1, Options{IdempotencyKey: "never-used"})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart, got %v", err)
	}
}

func TestDuplicateKeyAtCommitReturnsWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	p := h.mem.AddProduct("Ceramic Mug Set", decimal.RequireFromString("24.00"), 20)
	h.addToCart(t, 1, p, 1)

	first, err := h.orch.Checkout(ctx, 1, Options{IdempotencyKey: "k-2"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	// the cart was refilled and the up-front lookup missed, so the key
	// collision is only seen when it is recorded
	h.addToCart(t, 1, p, 2)
	h.st.missFirst = true

	second, err := h.orch.Checkout(ctx, 1, Options{IdempotencyKey: "k-2"})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Replayed || second.Order.ID != first.Order.ID {
		t.Fatalf("expected winner %d, got %+v", first.Order.ID, second)
	}
	if h.stock(t, p.ID) != 19 || h.mem.OrderCount() != 1 {
		t.Fatal("losing attempt left side effects")
	}
}

func TestOppositeCartOrderDoesNotDeadlock(t *testing.T) {
	ctx := context.Background()
	for iter := 0; iter < 50; iter++ {
		h := newHarness(t, 100*time.Millisecond)
		a := h.mem.AddProduct("Canvas Backpack", decimal.RequireFromString("54.99"), 10)
		b := h.mem.AddProduct("Desk Lamp", decimal.RequireFromString("29.50"), 10)
		h.addToCart(t, 1, b, 1)
		h.addToCart(t, 1, a, 1)
		h.addToCart(t, 2, a, 1)
		h.addToCart(t, 2, b, 1)

		var (
			wg   sync.WaitGroup
			errs [2]error
		)
		start := make(chan struct{})
		for i, u := range []domain.UserID{1, 2} {
			wg.Add(1)
			go func(i int, u domain.UserID) {
				defer wg.Done()
				<-start
				_, errs[i] = h.orch.Checkout(ctx, u, Options{})
			}(i, u)
		}
		close(start)
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("iteration %d user %d: %v", iter, i+1, err)
			}
		}
		if h.stock(t, a.ID) != 8 || h.stock(t, b.ID) != 8 {
			t.Fatalf("iteration %d: stock %d/%d", iter, h.stock(t, a.ID), h.stock(t, b.ID))
		}
	}
}

func TestDedupeLowStock(t *testing.T) {
	got := DedupeLowStock([]domain.LowStockEvent{
		{ProductID: 2, StockQuantity: 4},
		{ProductID: 1, StockQuantity: 3},
		{ProductID: 2, StockQuantity: 1},
	})
	if len(got) != 2 || got[0].ProductID != 2 || got[1].ProductID != 1 {
		t.Fatalf("got %+v", got)
	}
	if got[0].StockQuantity != 1 {
		t.Fatalf("expected lowest stock kept, got %d", got[0].StockQuantity)
	}
	if DedupeLowStock(nil) != nil {
		t.Fatal("nil in, nil out")
	}
}
