package sellingunit

import (
	"github.com/shopspring/decimal"
)

// BaseUnitQuantity returns how many base units the line represents. Lines
// without a selling unit count their quantity directly.
func BaseUnitQuantity(item CartItem) decimal.Decimal {
	qty := quantity(item)
	if !hasBaseUnits(item) {
		return qty
	}
	return baseUnits(item.SellingUnit).Mul(qty)
}

// ItemTotalPrice returns the charged price of the line. The unit price is
// resolved from the selling unit, then the line, then the product's list
// price; BasePrice is intentionally not consulted here.
func ItemTotalPrice(item CartItem) decimal.Decimal {
	var candidates []decimal.NullDecimal
	if item.SellingUnit != nil {
		candidates = append(candidates, item.SellingUnit.PricePerUnit)
	}
	candidates = append(candidates, item.UnitPrice)
	if item.Product != nil {
		candidates = append(candidates, item.Product.Price)
	}

	unitPrice, _ := FirstPresent(candidates...)
	return unitPrice.Mul(quantity(item))
}

// OriginalUnitPrice returns the struck-through display price of one selling
// unit of p. It is not the charged price; see ItemTotalPrice.
//
// Derived prices treat the largest configured option as one full product and
// round the result half away from zero to a whole amount.
func OriginalUnitPrice(p *Product, su *SellingUnit) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	productPrice, _ := FirstPresent(p.BasePrice, p.Price)

	if su == nil || p.SellingUnits == nil || !p.SellingUnits.Enabled {
		return productPrice
	}

	if su.PriceType == PriceManual && su.CustomPrice.IsPositive() {
		return su.CustomPrice
	}

	fullProductUnits := decimal.Zero
	for _, opt := range p.SellingUnits.Options {
		if opt.BaseUnitQuantity.GreaterThan(fullProductUnits) {
			fullProductUnits = opt.BaseUnitQuantity
		}
	}

	baseUnitPrice := productPrice
	if fullProductUnits.IsPositive() {
		baseUnitPrice = productPrice.Div(fullProductUnits)
	}
	return baseUnitPrice.Mul(su.BaseUnitQuantity).Round(0)
}

// Display returns the quantity labels shown next to a cart line.
//
// Plurals are formed by appending "s" to the base unit name; irregular
// plurals are not handled.
func Display(item CartItem) DisplayInfo {
	qty := quantity(item)

	if item.SellingUnit == nil {
		tag := DefaultUnitTag
		if item.Product != nil && item.Product.UnitTag != "" {
			tag = item.Product.UnitTag
		}
		return DisplayInfo{
			DisplayName:    qty.String() + " " + tag,
			TotalBaseUnits: qty,
		}
	}

	su := item.SellingUnit
	total := su.BaseUnitQuantity.Mul(qty)
	baseUnitDisplay := total.String() + " " + su.BaseUnitName
	if total.GreaterThan(one) {
		baseUnitDisplay += "s"
	}

	return DisplayInfo{
		DisplayName:     qty.String() + " " + su.DisplayName,
		BaseUnitDisplay: baseUnitDisplay,
		TotalBaseUnits:  total,
	}
}

// Validate checks that su can be offered for sale. Problems are reported in
// the returned Validation rather than as an error return so callers must look
// at Valid before trusting su.
func Validate(su *SellingUnit) Validation {
	switch {
	case su == nil:
		return Validation{Err: ErrMissingData}
	case !su.BaseUnitQuantity.IsPositive():
		return Validation{Err: ErrInvalidQuantity}
	case su.DisplayName == "":
		return Validation{Err: ErrMissingDisplayName}
	}
	return Validation{Valid: true}
}
