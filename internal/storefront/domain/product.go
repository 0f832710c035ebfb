package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID            ProductID
	Name          string
	Price         decimal.Decimal
	StockQuantity int
}

// ProductSnapshot is a product row read under an exclusive lock.
type ProductSnapshot struct {
	ID            ProductID
	Name          string
	Price         decimal.Decimal
	StockQuantity int
}

func (p Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price, StockQuantity: p.StockQuantity}
}
