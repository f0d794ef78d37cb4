package completion

import (
	"context"
	"fmt"

	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// CompletionResult is the outcome of a completion request.
type CompletionResult struct {
	OrderID  string
	Decision Decision
	Status   order.Status
	// Job is the recheck job holding the order when the decision is Defer.
	Job *job.Job
}

// Service intercepts requests to complete an order and routes them through
// the Gate and the Scheduler.
type Service struct {
	gate          *Gate
	scheduler     *Scheduler
	orders        order.Repository
	writer        orderWriter
	paymentMethod string
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewService creates a new Service.
func NewService(
	gate *Gate,
	scheduler *Scheduler,
	orders order.Repository,
	notifier order.Notifier,
	paymentMethod string,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Service {
	logger = observability.WithComponent(logger, "completion_service")
	return &Service{
		gate:          gate,
		scheduler:     scheduler,
		orders:        orders,
		writer:        orderWriter{repo: orders, notifier: notifier, logger: logger},
		paymentMethod: paymentMethod,
		metrics:       metrics,
		logger:        logger,
	}
}

// RequestCompletion tries to move the order to completed. Orders paid with
// another payment method are completed directly. Orders whose payment is
// not processed yet are held and added to the recheck job.
func (s *Service) RequestCompletion(ctx context.Context, orderID string) (*CompletionResult, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}

	if o.Status == order.StatusCompleted {
		s.metrics.CompletionRequests.WithLabelValues("already_completed").Inc()
		return &CompletionResult{OrderID: o.ID, Decision: Allow, Status: o.Status}, nil
	}

	if o.PaymentMethod != s.paymentMethod {
		if err := s.complete(ctx, o, ""); err != nil {
			return nil, err
		}
		s.metrics.CompletionRequests.WithLabelValues("direct").Inc()
		return &CompletionResult{OrderID: o.ID, Decision: Allow, Status: o.Status}, nil
	}

	count := o.RescheduleCount()
	d, err := s.gate.Evaluate(ctx, o, true)
	if err != nil {
		return nil, err
	}

	result := &CompletionResult{OrderID: o.ID, Decision: d}
	switch d {
	case Allow:
		if err := s.complete(ctx, o, noteCompleted); err != nil {
			return nil, err
		}
	case Defer:
		res, err := s.scheduler.Defer(ctx, o)
		if err != nil {
			s.restoreCount(ctx, o, count)
			return nil, fmt.Errorf("defer order: %w", err)
		}
		result.Job = res.Job
	}
	result.Status = o.Status

	s.metrics.CompletionRequests.WithLabelValues(d.String()).Inc()
	s.logger.Info().
		Str("order_id", o.ID).
		Stringer("decision", d).
		Str("status", string(o.Status)).
		Msg("completion requested")
	return result, nil
}

// restoreCount undoes the reschedule bump of a hold that never reached a
// recheck job, so a retried request counts once.
func (s *Service) restoreCount(ctx context.Context, o *order.Order, count int) {
	if o.RescheduleCount() == count {
		return
	}
	o.SetRescheduleCount(count)
	if err := s.writer.save(ctx, o); err != nil {
		s.logger.Error().Err(err).
			Str("order_id", o.ID).
			Int("reschedule_count", count).
			Msg("failed to restore reschedule count")
	}
}

func (s *Service) complete(ctx context.Context, o *order.Order, note string) error {
	if err := o.SetStatus(order.StatusCompleted, note); err != nil {
		return err
	}
	if err := s.writer.save(ctx, o); err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}
