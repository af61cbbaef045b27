package money

import "github.com/shopspring/decimal"

// Scale is the number of minor-unit digits kept on stored amounts.
const Scale = 2

var (
	// Tolerance is one minor currency unit.
	Tolerance = decimal.New(1, -Scale)
)

// Round rounds an amount to the currency scale, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// FloorZero returns d, or zero when d is negative.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Within reports whether a and b differ by at most one minor unit.
func Within(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// Parse parses a decimal string, treating an empty string as zero.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
