// Package money fixes the representation of monetary values for the whole
// capital core: exact decimals quantized to 2 places, ties away from zero.
// Binary floats never travel through a money path.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Zero is the canonical 0.00 amount.
var Zero = decimal.New(0, -2)

// Q2 quantizes an amount to 2 decimal places, ties away from zero.
func Q2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FromString parses a decimal string into a quantized amount.
func FromString(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	return Q2(d), nil
}

// MustFromString is FromString for literals in tests and defaults.
func MustFromString(s string) decimal.Decimal {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromFloat converts a float at the system boundary. Internal code should
// never produce the float in the first place.
func FromFloat(f float64) decimal.Decimal {
	return Q2(decimal.NewFromFloat(f))
}
