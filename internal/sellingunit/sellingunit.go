// Package sellingunit prices cart lines that are sold in alternative units
// ("half dozen", "full kg") backed by a common base unit.
//
// Every function in this package is pure: inputs are read once and never
// mutated, and malformed numbers are coerced rather than rejected. Validate is
// the only operation that reports problems, and it does so as a value.
package sellingunit

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PriceType selects how the display price of a selling unit is obtained.
type PriceType string

const (
	// PriceManual uses CustomPrice verbatim.
	PriceManual PriceType = "manual"
	// PriceDerived computes the price proportionally from the product price.
	PriceDerived PriceType = "derived"
)

// DefaultUnitTag labels quantities of products without selling units.
const DefaultUnitTag = "units"

var (
	// ErrMissingData is reported when no selling unit was supplied.
	ErrMissingData = errors.New("selling unit data is required")
	// ErrInvalidQuantity is reported when BaseUnitQuantity is missing or not positive.
	ErrInvalidQuantity = errors.New("base unit quantity must be greater than 0")
	// ErrMissingDisplayName is reported when DisplayName is empty.
	ErrMissingDisplayName = errors.New("display name is required")
)

// SellingUnit is a named multiple of a product's base unit.
type SellingUnit struct {
	BaseUnitQuantity decimal.Decimal     `json:"baseUnitQuantity"`
	DisplayName      string              `json:"displayName"`
	BaseUnitName     string              `json:"baseUnitName"`
	PricePerUnit     decimal.NullDecimal `json:"pricePerUnit"`
	PriceType        PriceType           `json:"priceType"`
	CustomPrice      decimal.Decimal     `json:"customPrice"`
}

// Options is the selling unit configuration of a product.
type Options struct {
	Enabled bool          `json:"enabled"`
	Options []SellingUnit `json:"options"`
}

// Find returns the option with the given display name.
func (o *Options) Find(displayName string) (SellingUnit, bool) {
	if o == nil {
		return SellingUnit{}, false
	}
	for _, su := range o.Options {
		if su.DisplayName == displayName {
			return su, true
		}
	}
	return SellingUnit{}, false
}

// Product is the read-only pricing view of a catalog product.
type Product struct {
	BasePrice    decimal.NullDecimal
	Price        decimal.NullDecimal
	SellingUnits *Options
	UnitTag      string
}

// CartItem is a single cart line as captured at add-to-cart time.
type CartItem struct {
	// Quantity counts selling units; non-positive values are read as 1.
	Quantity    int
	SellingUnit *SellingUnit
	UnitPrice   decimal.NullDecimal
	Product     *Product
}

// DisplayInfo holds the human readable quantities of a cart line.
type DisplayInfo struct {
	DisplayName string
	// BaseUnitDisplay is empty when the line has no selling unit.
	BaseUnitDisplay string
	TotalBaseUnits  decimal.Decimal
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid bool
	// Err is one of ErrMissingData, ErrInvalidQuantity or ErrMissingDisplayName.
	Err error
}
