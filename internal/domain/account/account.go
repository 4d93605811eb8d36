// Package account holds users' prepaid wallet balances.
package account

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when the user has no wallet.
	ErrNotFound = errors.New("wallet not found")
	// ErrInsufficientBalance is returned when a debit exceeds the stored
	// balance, typically because another order spent it first.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
)

// Account is a user's wallet.
type Account struct {
	UserID    string
	Balance   decimal.Decimal
	UpdatedAt time.Time
}

// Repository provides wallet lookups and top-ups. Debits happen together
// with order creation; see order.Repository.
type Repository interface {
	Get(ctx context.Context, userID string) (*Account, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (*Account, error)
}
