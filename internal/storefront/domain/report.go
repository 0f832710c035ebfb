package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateRange is half-open: From <= t < To.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// DayRange returns the calendar day containing t in t's location.
func DayRange(t time.Time) DateRange {
	y, m, d := t.Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return DateRange{From: from, To: from.AddDate(0, 0, 1)}
}

// UnknownProductName is reported for sales whose product row no longer exists.
const UnknownProductName = "Unknown"

type SalesSummaryRow struct {
	ProductID ProductID
	Name      string
	Quantity  int
	Total     decimal.Decimal
}
