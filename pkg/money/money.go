// Package money provides currency-tagged monetary values in integer minor
// units. Floating point never touches an amount; the decimal header grammar
// is parsed and rendered against the currency's scale.
package money

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// Money represents a monetary value in a specific currency.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 code, or a registered crypto code
	Scale       int    `json:"scale"`    // e.g. 2 for USD/EUR, 8 for BTC
}

// cryptoScales covers non-ISO codes the protocol accepts.
var cryptoScales = map[string]int{
	"BTC":  8,
	"ETH":  8,
	"USDC": 6,
	"USDT": 6,
}

// ScaleFor returns the minor-unit scale for a currency code.
// ISO 4217 codes are validated via x/text; unknown codes are rejected.
func ScaleFor(code string) (int, error) {
	code = strings.ToUpper(code)
	if s, ok := cryptoScales[code]; ok {
		return s, nil
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 0, fmt.Errorf("money: unknown currency %q: %w", code, err)
	}
	scale, _ := currency.Cash.Rounding(unit)
	return scale, nil
}

// New creates a Money in minor units, validating the currency code.
func New(amountMinor int64, code string) (Money, error) {
	scale, err := ScaleFor(code)
	if err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: amountMinor, Currency: strings.ToUpper(code), Scale: scale}, nil
}

// MustNew is New for static amounts in tests and defaults.
func MustNew(amountMinor int64, code string) Money {
	m, err := New(amountMinor, code)
	if err != nil {
		panic(err)
	}
	return m
}

// ParseDecimal parses a decimal string like "2.50" with a currency code into
// minor units. More fractional digits than the currency's scale is an error;
// fewer are zero-padded. Negative amounts are rejected.
func ParseDecimal(amount, code string) (Money, error) {
	scale, err := ScaleFor(code)
	if err != nil {
		return Money{}, err
	}
	s := strings.TrimSpace(amount)
	if s == "" {
		return Money{}, fmt.Errorf("money: empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return Money{}, fmt.Errorf("money: negative amount %q", amount)
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > scale {
		return Money{}, fmt.Errorf("money: %q exceeds scale %d for %s", amount, scale, code)
	}
	frac += strings.Repeat("0", scale-len(frac))

	var minor int64
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return Money{}, fmt.Errorf("money: malformed amount %q", amount)
		}
		d := int64(r - '0')
		if minor > (1<<62)/10 {
			return Money{}, fmt.Errorf("money: amount %q overflows", amount)
		}
		minor = minor*10 + d
	}
	return Money{AmountMinor: minor, Currency: strings.ToUpper(code), Scale: scale}, nil
}

// Decimal renders the amount as a decimal string without the currency code.
func (m Money) Decimal() string {
	if m.Scale == 0 {
		return fmt.Sprintf("%d", m.AmountMinor)
	}
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	return fmt.Sprintf("%d.%0*d", m.AmountMinor/div, m.Scale, m.AmountMinor%div)
}

// String renders "2.50 USD".
func (m Money) String() string {
	return m.Decimal() + " " + m.Currency
}

// Add adds two Money amounts. Returns error on currency mismatch.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency, Scale: m.Scale}, nil
}

// Cmp compares amounts: -1, 0, +1. Error on currency mismatch.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// IsZero returns true if the amount is 0.
func (m Money) IsZero() bool { return m.AmountMinor == 0 }

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }
