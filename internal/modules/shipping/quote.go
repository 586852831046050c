package shipping

import "github.com/shopspring/decimal"

// Quoter prices shipping for a checkout. When no method is chosen a flat fee
// applies, waived once the subtotal reaches the free threshold.
type Quoter struct {
	Flat          decimal.Decimal
	FreeThreshold decimal.Decimal
}

func (q Quoter) Quote(subtotal decimal.Decimal, method *Method) decimal.Decimal {
	if method != nil {
		return method.Price.Round(2)
	}
	if subtotal.GreaterThanOrEqual(q.FreeThreshold) {
		return decimal.Zero.Round(2)
	}
	return q.Flat.Round(2)
}
