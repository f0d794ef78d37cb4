package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository stores orders and their notes.
type OrderRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, tx: NewTxManager(pool)}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o := &order.Order{}
	var status string
	var metadata []byte
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, payment_method, status, metadata, created_at, updated_at
		 FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.PaymentMethod, &status, &metadata, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, domainErrors.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	o.Status = order.Status(status)
	o.Metadata = make(map[string]string)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &o.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal order metadata: %w", err)
		}
	}
	return o, nil
}

// Save updates status and metadata and appends unsaved notes in one transaction.
// Saving an order that does not exist yet inserts it.
func (r *OrderRepository) Save(ctx context.Context, o *order.Order) error {
	metadata, err := json.Marshal(o.Metadata)
	if err != nil {
		return fmt.Errorf("marshal order metadata: %w", err)
	}

	write := func(ctx context.Context) error {
		_, err := r.db(ctx).Exec(ctx,
			`INSERT INTO orders (id, payment_method, status, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE
			 SET status = EXCLUDED.status, metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at`,
			o.ID, o.PaymentMethod, string(o.Status), metadata, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}
		for _, n := range o.PendingNotes() {
			if _, err := r.db(ctx).Exec(ctx,
				`INSERT INTO order_notes (order_id, note, created_at) VALUES ($1, $2, $3)`,
				o.ID, n.Text, n.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert order note: %w", err)
			}
		}
		return nil
	}

	if InTx(ctx) {
		err = write(ctx)
	} else {
		err = r.tx.WithTransaction(ctx, write)
	}
	if err != nil {
		return err
	}
	o.FlushNotes()
	return nil
}

// Notes returns the notes of an order, oldest first.
func (r *OrderRepository) Notes(ctx context.Context, id string) ([]order.Note, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT note, created_at FROM order_notes WHERE order_id = $1 ORDER BY created_at, id`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list order notes: %w", err)
	}
	defer rows.Close()

	var notes []order.Note
	for rows.Next() {
		var n order.Note
		if err := rows.Scan(&n.Text, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
