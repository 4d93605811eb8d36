package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/grup/internal/domain/account"
)

const (
	getWalletSQL = `SELECT user_id, balance, updated_at FROM wallets WHERE user_id = $1`

	creditWalletSQL = `INSERT INTO wallets (user_id, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
			balance = wallets.balance + EXCLUDED.balance,
			updated_at = now()
		RETURNING user_id, balance, updated_at`

	debitWalletSQL = `UPDATE wallets SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2`
)

var _ account.Repository = (*WalletRepository)(nil)

// WalletRepository implements account.Repository backed by PostgreSQL.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository returns a WalletRepository that uses the given pool.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// Get returns the wallet of userID or account.ErrNotFound.
func (r *WalletRepository) Get(ctx context.Context, userID string) (*account.Account, error) {
	rows, err := r.pool.Query(ctx, getWalletSQL, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "get wallet %q", userID)
	}

	acc, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get wallet %q", userID)
	}
	return &acc, nil
}

// Credit adds amount to the wallet of userID, creating it when missing.
func (r *WalletRepository) Credit(ctx context.Context, userID string, amount decimal.Decimal) (*account.Account, error) {
	rows, err := r.pool.Query(ctx, creditWalletSQL, userID, amount)
	if err != nil {
		return nil, errors.Wrapf(err, "credit wallet %q", userID)
	}

	acc, err := pgx.CollectExactlyOneRow(rows, scanAccount)
	if err != nil {
		return nil, errors.Wrapf(err, "credit wallet %q", userID)
	}
	return &acc, nil
}

// debit subtracts amount from the wallet inside tx. The conditional update
// fails instead of driving the balance negative.
func debit(ctx context.Context, tx pgx.Tx, userID string, amount decimal.Decimal) error {
	tag, err := tx.Exec(ctx, debitWalletSQL, userID, amount)
	if err != nil {
		return errors.Wrapf(err, "debit wallet %q", userID)
	}
	if tag.RowsAffected() == 0 {
		return account.ErrInsufficientBalance
	}
	return nil
}

func scanAccount(row pgx.CollectableRow) (account.Account, error) {
	var acc account.Account
	err := row.Scan(&acc.UserID, &acc.Balance, &acc.UpdatedAt)
	return acc, err
}
