package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a placed order with its wallet/payment split.
type Order struct {
	ID             string
	UserID         string
	Lines          []Line
	Subtotal       decimal.Decimal
	WalletUsed     decimal.Decimal
	RemainingToPay decimal.Decimal
	CreatedAt      time.Time
}

// Line is a priced order line as stored with the order.
type Line struct {
	ProductID   string          `json:"productId"`
	Quantity    int             `json:"quantity"`
	SellingUnit string          `json:"sellingUnit,omitempty"`
	BaseUnits   decimal.Decimal `json:"baseUnits"`
	Total       decimal.Decimal `json:"total"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and debits o.WalletUsed from the user's wallet
	// atomically. It returns account.ErrInsufficientBalance when the wallet
	// no longer covers the debit.
	Create(ctx context.Context, o *Order) error
}
