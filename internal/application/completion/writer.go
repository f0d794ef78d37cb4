package completion

import (
	"context"

	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/rs/zerolog"
)

// orderWriter persists an order and announces the status changes it carries.
type orderWriter struct {
	repo     order.Repository
	notifier order.Notifier
	logger   zerolog.Logger
}

func (w orderWriter) save(ctx context.Context, o *order.Order) error {
	if err := w.repo.Save(ctx, o); err != nil {
		return err
	}
	transitions := o.DrainTransitions()
	if w.notifier == nil {
		return nil
	}
	for _, t := range transitions {
		if err := w.notifier.StatusChanged(ctx, o.ID, t); err != nil {
			// Notification is best effort once the order is stored.
			w.logger.Warn().Err(err).
				Str("order_id", o.ID).
				Str("from", string(t.From)).
				Str("to", string(t.To)).
				Msg("failed to publish order status change")
		}
	}
	return nil
}
