package repository

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/grup/internal/domain/order"
)

const createOrderSQL = `INSERT INTO orders (id, user_id, lines, subtotal, wallet_used, remaining_to_pay, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and debits the wallet amount in the same
// transaction. The order lines are serialized to JSON for storage in the
// JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "marshal order lines")
	}

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if o.WalletUsed.IsPositive() {
			if err := debit(ctx, tx, o.UserID, o.WalletUsed); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, linesJSON, o.Subtotal, o.WalletUsed, o.RemainingToPay, o.CreatedAt,
		)
		if err != nil {
			return errors.Wrapf(err, "create order %q", o.ID)
		}
		return nil
	})
}
