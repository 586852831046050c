package payments

import (
	"strings"

	"github.com/shopspring/decimal"
)

var centTolerance = decimal.NewFromFloat(0.01)

// ParseAmount normalizes a provider-reported amount to two decimals. The
// second return is false for blank or unparseable input.
func ParseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Round(2), true
}

// FromCents converts a minor-unit integer amount (Stripe) to decimal.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// AmountMatches reports whether a provider-reported amount agrees with the
// frozen order total within a one cent tolerance. Anything further off is
// rejected outright, never adjusted.
func AmountMatches(total, reported decimal.Decimal) bool {
	diff := reported.Round(2).Sub(total.Round(2)).Abs()
	return diff.LessThanOrEqual(centTolerance)
}

// CurrencyMatches requires an exact currency match, ignoring case.
func CurrencyMatches(expected, got string) bool {
	return strings.EqualFold(strings.TrimSpace(expected), strings.TrimSpace(got))
}
