package shipping

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	q := Quoter{
		Flat:          decimal.RequireFromString("9.99"),
		FreeThreshold: decimal.RequireFromString("100"),
	}

	require.Equal(t, "9.99", q.Quote(decimal.RequireFromString("19.99"), nil).StringFixed(2))
	require.Equal(t, "9.99", q.Quote(decimal.RequireFromString("99.99"), nil).StringFixed(2))
	require.Equal(t, "0.00", q.Quote(decimal.RequireFromString("100.00"), nil).StringFixed(2))
	require.Equal(t, "0.00", q.Quote(decimal.RequireFromString("250.00"), nil).StringFixed(2))

	// An explicit method always wins, even above the free threshold.
	express := &Method{Price: decimal.RequireFromString("15.00")}
	require.Equal(t, "15.00", q.Quote(decimal.RequireFromString("250.00"), express).StringFixed(2))
}
