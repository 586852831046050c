package payments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"21.59", "21.59", true},
		{" 21.59 ", "21.59", true},
		{"21.594", "21.59", true},
		{"21.595", "21.60", true},
		{"21", "21.00", true},
		{"", "", false},
		{"  ", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseAmount(tt.in)
		require.Equal(t, tt.ok, ok, "input %q", tt.in)
		if ok {
			require.Equal(t, tt.want, got.StringFixed(2), "input %q", tt.in)
		}
	}
}

func TestFromCents(t *testing.T) {
	require.Equal(t, "21.59", FromCents(2159).StringFixed(2))
	require.Equal(t, "0.00", FromCents(0).StringFixed(2))
	require.Equal(t, "0.01", FromCents(1).StringFixed(2))
}

func TestAmountMatches(t *testing.T) {
	total := decimal.RequireFromString("21.59")
	tests := []struct {
		reported string
		want     bool
	}{
		{"21.59", true},
		{"21.58", true},
		{"21.60", true},
		{"21.57", false},
		{"21.61", false},
		{"0.00", false},
	}
	for _, tt := range tests {
		got := AmountMatches(total, decimal.RequireFromString(tt.reported))
		require.Equal(t, tt.want, got, "reported %s", tt.reported)
	}
}

func TestCurrencyMatches(t *testing.T) {
	require.True(t, CurrencyMatches("USD", "usd"))
	require.True(t, CurrencyMatches("USD", " USD "))
	require.False(t, CurrencyMatches("USD", "EUR"))
	require.False(t, CurrencyMatches("USD", ""))
}
