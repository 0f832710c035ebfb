package httpapi

import (
	"time"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
)

type cartItemView struct {
	ID        int64 `json:"id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

func newCartItemView(it domain.CartItem) cartItemView {
	return cartItemView{ID: int64(it.ID), ProductID: int64(it.ProductID), Quantity: it.Quantity}
}

type cartLineView struct {
	cartItemView
	Name          string `json:"name"`
	Price         string `json:"price"`
	StockQuantity int    `json:"stock_quantity"`
	Subtotal      string `json:"subtotal"`
}

type cartView struct {
	Items []cartLineView `json:"items"`
	Total string         `json:"total"`
}

func newCartView(c domain.Cart) cartView {
	v := cartView{Items: make([]cartLineView, 0, len(c.Lines)), Total: c.Total.StringFixed(2)}
	for _, l := range c.Lines {
		v.Items = append(v.Items, cartLineView{
			cartItemView:  newCartItemView(l.Item),
			Name:          l.Product.Name,
			Price:         l.Product.Price.StringFixed(2),
			StockQuantity: l.Product.StockQuantity,
			Subtotal:      l.Subtotal.StringFixed(2),
		})
	}
	return v
}

type orderItemView struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type orderView struct {
	ID       int64           `json:"id"`
	Status   string          `json:"status"`
	Total    string          `json:"total"`
	PlacedAt time.Time       `json:"placed_at"`
	Items    []orderItemView `json:"items"`
}

func newOrderView(o domain.Order) orderView {
	v := orderView{
		ID:       int64(o.ID),
		Status:   string(o.Status),
		Total:    o.Total.StringFixed(2),
		PlacedAt: o.PlacedAt,
		Items:    make([]orderItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{
			ProductID:   int64(it.ProductID),
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			Subtotal:    it.Subtotal.StringFixed(2),
		})
	}
	return v
}
