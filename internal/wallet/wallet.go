// Package wallet splits an order total between a prepaid wallet balance and
// the amount left for an external payment method.
package wallet

import "github.com/shopspring/decimal"

// Split is the outcome of applying a wallet balance to a total.
type Split struct {
	WalletUsed     decimal.Decimal
	RemainingToPay decimal.Decimal
}

// Apply draws as much of balance as the total allows. Inputs are not
// validated; callers must pass non-negative amounts, in which case both
// outputs are non-negative and sum to total.
func Apply(total, balance decimal.Decimal) Split {
	used := decimal.Min(balance, total)
	return Split{
		WalletUsed:     used,
		RemainingToPay: total.Sub(used),
	}
}

// Covered reports whether the wallet pays the whole total.
func (s Split) Covered() bool {
	return s.RemainingToPay.IsZero()
}
