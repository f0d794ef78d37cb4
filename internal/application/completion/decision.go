package completion

import (
	"context"

	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/providers"
)

// Decision is the Completion Gate verdict for one order.
type Decision int

const (
	// Allow lets the order move to completed.
	Allow Decision = iota
	// Defer holds the order and schedules a recheck.
	Defer
	// Failed means the order was forced to failed and will not be retried.
	Failed
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Defer:
		return "defer"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DecisionFilter can override a computed decision before callers act on it.
// status is nil when the provider was not asked or the query failed.
type DecisionFilter func(ctx context.Context, d Decision, o *order.Order, status *providers.PaymentStatus) Decision
