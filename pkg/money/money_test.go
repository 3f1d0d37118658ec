package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		code    string
		want    int64
		scale   int
		wantErr bool
	}{
		{name: "usd cents", amount: "2.50", code: "USD", want: 250, scale: 2},
		{name: "usd whole", amount: "10", code: "usd", want: 1000, scale: 2},
		{name: "usd short fraction", amount: "1.5", code: "USD", want: 150, scale: 2},
		{name: "leading dot", amount: ".50", code: "USD", want: 50, scale: 2},
		{name: "zero", amount: "0.00", code: "EUR", want: 0, scale: 2},
		{name: "jpy no minor", amount: "120", code: "JPY", want: 120, scale: 0},
		{name: "btc satoshi", amount: "0.00000001", code: "BTC", want: 1, scale: 8},
		{name: "usdc", amount: "1.000001", code: "USDC", want: 1000001, scale: 6},
		{name: "overscale", amount: "1.234", code: "USD", wantErr: true},
		{name: "negative", amount: "-1.00", code: "USD", wantErr: true},
		{name: "garbage", amount: "2.5O", code: "USD", wantErr: true},
		{name: "empty", amount: "", code: "USD", wantErr: true},
		{name: "unknown currency", amount: "1.00", code: "XXQ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseDecimal(tt.amount, tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.AmountMinor)
			assert.Equal(t, tt.scale, m.Scale)
		})
	}
}

func TestDecimalRoundTrip(t *testing.T) {
	for _, s := range []string{"0.00", "2.50", "10.05", "999999.99"} {
		m, err := ParseDecimal(s, "USD")
		require.NoError(t, err)
		assert.Equal(t, s, m.Decimal())
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "2.50 USD", MustNew(250, "USD").String())
	assert.Equal(t, "120 JPY", MustNew(120, "JPY").String())
}

func TestAddAndCmp(t *testing.T) {
	a := MustNew(100, "USD")
	b := MustNew(150, "USD")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(250), sum.AmountMinor)

	cmp, err := a.Cmp(b)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	cmp, err = b.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	eur := MustNew(100, "EUR")
	_, err = a.Add(eur)
	assert.Error(t, err)
	_, err = a.Cmp(eur)
	assert.Error(t, err)
}

func TestPredicates(t *testing.T) {
	assert.True(t, MustNew(0, "USD").IsZero())
	assert.True(t, MustNew(1, "USD").IsPositive())
	assert.False(t, MustNew(0, "USD").IsPositive())
}
