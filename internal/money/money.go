// Package money fixes the conventions for monetary values: amounts are int64
// minor units, arithmetic is integer-only, division floors.
package money

import "fmt"

// Currency identifies the settlement rail of an amount. The platform sells in
// a fiat currency and one stablecoin; no conversion is performed between them.
type Currency string

const (
	// Fiat is the local card/bank settlement currency.
	Fiat Currency = "fiat"
	// Stable is the supported stablecoin.
	Stable Currency = "stable"
)

// Valid reports whether c is a known currency.
func (c Currency) Valid() bool {
	return c == Fiat || c == Stable
}

// Parse normalizes a wire value into a Currency.
func Parse(s string) (Currency, error) {
	c := Currency(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown currency %q", s)
	}
	return c, nil
}

// Percent returns amount × pct / 100, flooring toward zero.
func Percent(amount, pct int64) int64 {
	return amount * pct / 100
}

// Proportion returns total × part / whole, flooring toward zero. It is used
// for proportional share release on installment payments. whole must be > 0.
func Proportion(total, part, whole int64) int64 {
	if whole <= 0 {
		return 0
	}
	return total * part / whole
}

// Min returns the smaller of two amounts.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
