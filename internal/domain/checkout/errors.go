package checkout

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for checkout requests.
var (
	ErrEmptyItems = errors.New("items required")
	// ErrUserRequired is returned when an order or wallet payment has no user.
	ErrUserRequired = errors.New("user id required")
	// ErrNegativeAmount is returned when a price or wallet balance reaching
	// checkout is negative. The pricing functions do not clamp, so the check
	// happens here.
	ErrNegativeAmount = errors.New("amount must not be negative")
	// ErrUnknownSellingUnit is returned when a line names a selling unit the
	// product does not offer.
	ErrUnknownSellingUnit = errors.New("selling unit not offered")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InvalidSellingUnitError indicates the selling unit chosen for a line is
// unknown or fails validation.
type InvalidSellingUnitError struct {
	ProductID   string
	SellingUnit string
	Err         error
}

func (e *InvalidSellingUnitError) Error() string {
	return fmt.Sprintf("selling unit %q of product %s: %s", e.SellingUnit, e.ProductID, e.Err)
}

func (e *InvalidSellingUnitError) Unwrap() error {
	return e.Err
}
