package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Monetary values are fixed-point decimals with scale 2, stored as
// NUMERIC(20,2). shopspring/decimal carries them losslessly in process.

// MoneyScale is the number of decimal places every balance and amount keeps.
const MoneyScale = 2

// ErrInvalidAmount marks amounts that fail scale-2 validation.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a client-supplied amount and validates it as a
// positive scale-2 value.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects non-positive amounts and amounts with more than
// two decimal places.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidAmount, d)
	}
	if d.Exponent() < -MoneyScale && !d.Equal(d.Round(MoneyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, d, MoneyScale)
	}
	return nil
}

// FormatMoney renders a monetary value with exactly two decimal places.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}
