package providers

import (
	"context"
)

// PaymentStatus is the provider's view of a purchase at query time.
type PaymentStatus struct {
	PurchaseReference string
	// Processed is true once the provider has activated the reservation.
	Processed bool
	State     string
	Raw       map[string]any
}

// Provider is the interface that external payment providers implement.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// GetPaymentStatus fetches the current status of a purchase.
	GetPaymentStatus(ctx context.Context, purchaseReference string) (*PaymentStatus, error)
}
