package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/checkout"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
	"github.com/nazeru/storefront-checkout-go/internal/storefront/report"
	"github.com/nazeru/storefront-checkout-go/pkg/idempotency"
)

type Cart interface {
	AddItem(ctx context.Context, userID domain.UserID, productID domain.ProductID, qty int) (domain.CartItem, error)
	SetQuantity(ctx context.Context, userID domain.UserID, itemID domain.CartItemID, qty int) error
	RemoveItem(ctx context.Context, userID domain.UserID, itemID domain.CartItemID) error
	List(ctx context.Context, userID domain.UserID) (domain.Cart, error)
}

type Orders interface {
	Order(ctx context.Context, userID domain.UserID, id domain.OrderID) (domain.Order, error)
}

type Reports interface {
	ParseDay(s string) (time.Time, error)
	Run(ctx context.Context, day time.Time) (report.Summary, error)
}

type Handler struct {
	cart     Cart
	checkout checkout.Engine
	orders   Orders
	reports  Reports
	ping     func(ctx context.Context) error
	logger   *zap.Logger
}

func NewHandler(c Cart, e checkout.Engine, o Orders, r Reports, ping func(ctx context.Context) error, logger *zap.Logger) *Handler {
	return &Handler{cart: c, checkout: e, orders: o, reports: r, ping: ping, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_error"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) ListCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.cart.List(r.Context(), userFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c))
}

type addItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	it, err := h.cart.AddItem(r.Context(), userFrom(r.Context()), domain.ProductID(req.ProductID), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Added to cart.", "item": newCartItemView(it)})
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found."})
		return
	}
	var req updateItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	if err := h.cart.SetQuantity(r.Context(), userFrom(r.Context()), domain.CartItemID(id), req.Quantity); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Cart updated."})
}

func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found."})
		return
	}
	if err := h.cart.RemoveItem(r.Context(), userFrom(r.Context()), domain.CartItemID(id)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Item removed."})
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	res, err := h.checkout.Checkout(r.Context(), userFrom(r.Context()), checkout.Options{IdempotencyKey: idempotency.Key(r)})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Replayed {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Order already placed.", "order": newOrderView(res.Order), "replayed": true})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Order placed.", "order": newOrderView(res.Order)})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found."})
		return
	}
	o, err := h.orders.Order(r.Context(), userFrom(r.Context()), domain.OrderID(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(o))
}

func (h *Handler) TriggerDailyReport(w http.ResponseWriter, r *http.Request) {
	day, err := h.reports.ParseDay(r.URL.Query().Get("date"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.reports.Run(r.Context(), day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":  "Daily report enqueued.",
		"day":      s.Range.From.Format(time.DateOnly),
		"products": len(s.Rows),
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
