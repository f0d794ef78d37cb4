package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker serializes work on a key with a transaction-scoped advisory
// lock. fn runs inside the transaction, so JobStore calls made with the
// context it receives commit or roll back together.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool, tx: NewTxManager(pool)}
}

func (l *AdvisoryLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := ConnFromCtx(txCtx, l.pool).Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("acquire advisory lock %q: %w", key, err)
		}
		return fn(txCtx)
	})
}
