package product

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/grup/internal/sellingunit"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrNegativePrice is returned when a product or selling unit carries a
	// negative amount.
	ErrNegativePrice = errors.New("price must not be negative")
)

// Product represents a catalog item available for purchase, optionally sold in
// several selling units.
type Product struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Category     string               `json:"category"`
	Image        Image                `json:"image"`
	BasePrice    decimal.NullDecimal  `json:"basePrice"`
	Price        decimal.NullDecimal  `json:"price"`
	UnitTag      string               `json:"unitTag"`
	SellingUnits *sellingunit.Options `json:"sellingUnits,omitempty"`
}

// Image holds responsive image URLs for a product.
type Image struct {
	Thumbnail string `json:"thumbnail"`
	Mobile    string `json:"mobile"`
	Tablet    string `json:"tablet"`
	Desktop   string `json:"desktop"`
}

// Pricing returns the read-only view used by the selling unit pricer.
func (p *Product) Pricing() *sellingunit.Product {
	return &sellingunit.Product{
		BasePrice:    p.BasePrice,
		Price:        p.Price,
		SellingUnits: p.SellingUnits,
		UnitTag:      p.UnitTag,
	}
}

// SellingUnitsEnabled reports whether the product is sold in selling units.
func (p *Product) SellingUnitsEnabled() bool {
	return p.SellingUnits != nil && p.SellingUnits.Enabled
}

// InvalidSellingUnitError reports the first selling unit option that failed
// validation.
type InvalidSellingUnitError struct {
	Index int
	Err   error
}

func (e *InvalidSellingUnitError) Error() string {
	return fmt.Sprintf("selling unit %d: %s", e.Index, e.Err)
}

func (e *InvalidSellingUnitError) Unwrap() error {
	return e.Err
}

// Check validates a product before it is stored: money must not be negative
// and every selling unit option must pass sellingunit.Validate.
func Check(p *Product) error {
	for _, m := range []decimal.NullDecimal{p.BasePrice, p.Price} {
		if m.Valid && m.Decimal.IsNegative() {
			return ErrNegativePrice
		}
	}
	if p.SellingUnits == nil {
		return nil
	}
	for i := range p.SellingUnits.Options {
		su := &p.SellingUnits.Options[i]
		if v := sellingunit.Validate(su); !v.Valid {
			return &InvalidSellingUnitError{Index: i, Err: v.Err}
		}
		if su.CustomPrice.IsNegative() || (su.PricePerUnit.Valid && su.PricePerUnit.Decimal.IsNegative()) {
			return &InvalidSellingUnitError{Index: i, Err: ErrNegativePrice}
		}
	}
	return nil
}

// Repository defines persistence operations for the product catalog.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	Upsert(ctx context.Context, p *Product) error
}
