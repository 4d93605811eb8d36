package sellingunit

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// FirstPresent returns the first value that is set. A present zero wins over
// later values: zero is a legitimate price, not a missing one.
func FirstPresent(values ...decimal.NullDecimal) (decimal.Decimal, bool) {
	for _, v := range values {
		if v.Valid {
			return v.Decimal, true
		}
	}
	return decimal.Zero, false
}

// PositiveOrDefault returns v when it is set and strictly positive, otherwise
// fallback. Zero and negative inputs both yield fallback.
func PositiveOrDefault(v decimal.NullDecimal, fallback decimal.Decimal) decimal.Decimal {
	if v.Valid && v.Decimal.IsPositive() {
		return v.Decimal
	}
	return fallback
}

// PositiveIntOrDefault is PositiveOrDefault for integer counts.
func PositiveIntOrDefault(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}

// quantity returns the coerced line quantity as a decimal.
func quantity(item CartItem) decimal.Decimal {
	return decimal.NewFromInt(int64(PositiveIntOrDefault(item.Quantity, 1)))
}

// baseUnits returns the coerced base unit quantity of su. A zero value counts
// as missing.
func baseUnits(su *SellingUnit) decimal.Decimal {
	return PositiveOrDefault(decimal.NewNullDecimal(su.BaseUnitQuantity), one)
}

// hasBaseUnits reports whether the line carries a selling unit with a base
// unit quantity.
func hasBaseUnits(item CartItem) bool {
	return item.SellingUnit != nil && !item.SellingUnit.BaseUnitQuantity.IsZero()
}
