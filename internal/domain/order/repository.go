package order

import "context"

// Repository defines the interface for order persistence
type Repository interface {
	// Get loads an order. Missing orders yield errors.ErrOrderNotFound.
	Get(ctx context.Context, id string) (*Order, error)

	// Save persists status, metadata and pending notes.
	Save(ctx context.Context, o *Order) error
}

// Notifier announces order status changes to interested parties.
type Notifier interface {
	StatusChanged(ctx context.Context, orderID string, t Transition) error
}
