package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/cassiomorais/ordercompletion/pkg/saga"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SchedulerConfig holds the Retry Scheduler settings.
type SchedulerConfig struct {
	// Hook names the single job type used for rechecks.
	Hook string
	// PaymentMethod is the only payment method the scheduler handles.
	PaymentMethod string
	// DefaultDelay is how far in the future a new recheck job runs.
	DefaultDelay time.Duration
	// CountScheduledRechecks bumps the reschedule counter on every scheduled
	// recheck as well as on interception.
	CountScheduledRechecks bool
}

// DefaultSchedulerConfig returns the production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Hook:          "aco_scheduled_order_completion",
		PaymentMethod: "aco",
		DefaultDelay:  time.Hour,
	}
}

// DeferAction describes what Defer did to the recheck job.
type DeferAction string

const (
	ActionCreated DeferAction = "created"
	ActionMerged  DeferAction = "merged"
	ActionNoop    DeferAction = "noop"
)

// DeferResult is the outcome of a Defer call. Job is the pending job after
// the call, or nil when there was nothing to schedule.
type DeferResult struct {
	Action DeferAction
	Job    *job.Job
}

// FireReport lists what happened to each order of a fired job.
type FireReport struct {
	Completed   []string
	Rescheduled []string
	Failed      []string
	Skipped     []string
}

// RescheduleError is returned by Fire when orders that are held for another
// recheck could not be added to a new job.
type RescheduleError struct {
	OrderIDs []string
	Err      error
}

func (e *RescheduleError) Error() string {
	return fmt.Sprintf("reschedule %d orders: %v", len(e.OrderIDs), e.Err)
}

func (e *RescheduleError) Unwrap() error { return e.Err }

// Scheduler keeps every order awaiting a recheck in one pending job and
// re-evaluates them when the job fires.
type Scheduler struct {
	gate    *Gate
	orders  order.Repository
	writer  orderWriter
	jobs    job.Store
	locker  Locker
	cfg     SchedulerConfig
	metrics *observability.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(
	gate *Gate,
	orders order.Repository,
	notifier order.Notifier,
	jobs job.Store,
	locker Locker,
	cfg SchedulerConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Scheduler {
	logger = observability.WithComponent(logger, "retry_scheduler")
	return &Scheduler{
		gate:    gate,
		orders:  orders,
		writer:  orderWriter{repo: orders, notifier: notifier, logger: logger},
		jobs:    jobs,
		locker:  locker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Hook returns the job hook the scheduler owns.
func (s *Scheduler) Hook() string { return s.cfg.Hook }

// Defer adds orders to the pending recheck job.
func (s *Scheduler) Defer(ctx context.Context, orders ...*order.Order) (*DeferResult, error) {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		if o != nil {
			ids = append(ids, o.ID)
		}
	}
	return s.DeferIDs(ctx, ids...)
}

// DeferIDs adds order IDs to the pending recheck job. Without a pending job a
// new one is scheduled DefaultDelay from now. IDs already in the job are
// ignored; new IDs are appended and the job keeps its original run time.
func (s *Scheduler) DeferIDs(ctx context.Context, ids ...string) (*DeferResult, error) {
	payload := job.NewPayload(ids...)
	if len(payload) == 0 {
		return &DeferResult{Action: ActionNoop}, nil
	}

	ctx, span := observability.Tracer().Start(ctx, "completion.Defer",
		trace.WithAttributes(attribute.Int("orders", len(payload))))
	defer span.End()

	var result *DeferResult
	err := s.locker.WithLock(ctx, s.cfg.Hook, func(ctx context.Context) error {
		pending, err := s.jobs.FindPending(ctx, s.cfg.Hook)
		if err != nil {
			return fmt.Errorf("find pending jobs: %w", err)
		}

		if len(pending) == 0 {
			j, err := s.jobs.Schedule(ctx, s.cfg.Hook, s.now().Add(s.cfg.DefaultDelay), payload)
			if err != nil {
				return fmt.Errorf("schedule job: %w", err)
			}
			result = &DeferResult{Action: ActionCreated, Job: j}
			return nil
		}

		if len(pending) > 1 {
			s.metrics.InvariantViolations.Inc()
			s.logger.Error().Err(domainErrors.ErrInvariantViolation).
				Str("hook", s.cfg.Hook).
				Int("pending", len(pending)).
				Str("job_id", pending[0].Handle.String()).
				Msg("using the first pending job")
		}

		existing := pending[0]
		diff := existing.Payload.Missing(payload)
		if len(diff) == 0 {
			result = &DeferResult{Action: ActionNoop, Job: existing}
			return nil
		}

		j, err := s.replace(ctx, existing, existing.Payload.Merge(diff))
		if err != nil {
			return err
		}
		result = &DeferResult{Action: ActionMerged, Job: j}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.SchedulerJobs.WithLabelValues(string(result.Action)).Inc()
	s.metrics.PendingOrders.Set(float64(len(result.Job.Payload)))
	s.logger.Info().
		Str("action", string(result.Action)).
		Str("job_id", result.Job.Handle.String()).
		Time("run_at", result.Job.RunAt).
		Strs("order_ids", result.Job.Payload).
		Msg("order completion scheduled")
	return result, nil
}

// replace swaps existing for a job with payload at the same run time. When
// the new job cannot be scheduled the cancelled one is restored.
func (s *Scheduler) replace(ctx context.Context, existing *job.Job, payload job.Payload) (*job.Job, error) {
	var merged *job.Job
	err := saga.New("merge_recheck_job").
		AddStep(saga.Step{
			Name: "cancel_pending",
			Execute: func(ctx context.Context) error {
				return s.jobs.Cancel(ctx, existing.Handle)
			},
			Compensate: func(ctx context.Context) error {
				_, err := s.jobs.Schedule(ctx, s.cfg.Hook, existing.RunAt, existing.Payload)
				return err
			},
		}).
		AddStep(saga.Step{
			Name: "schedule_merged",
			Execute: func(ctx context.Context) error {
				j, err := s.jobs.Schedule(ctx, s.cfg.Hook, existing.RunAt, payload)
				merged = j
				return err
			},
		}).
		Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("replace job %s: %w", existing.Handle, err)
	}
	return merged, nil
}

// Fire re-evaluates the orders of a fired job. Orders that are still not
// processed are deferred again into a new job; the rest are completed or
// left failed. Per-order errors are logged and do not stop the batch. When
// the deferral fails the error is a *RescheduleError naming the held orders.
func (s *Scheduler) Fire(ctx context.Context, ids []string) (*FireReport, error) {
	ctx, span := observability.Tracer().Start(ctx, "completion.Fire",
		trace.WithAttributes(attribute.Int("orders", len(ids))))
	defer span.End()

	report := &FireReport{}
	var reschedule []*order.Order

	for _, id := range ids {
		logger := s.logger.With().Str("order_id", id).Logger()

		o, err := s.orders.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domainErrors.ErrOrderNotFound) {
				logger.Debug().Err(err).Msg("skipping order")
			} else {
				logger.Error().Err(err).Msg("failed to load order")
			}
			s.record(&report.Skipped, id, "skipped")
			continue
		}
		if o.PaymentMethod != s.cfg.PaymentMethod {
			logger.Debug().Err(domainErrors.ErrWrongPaymentMethod).
				Str("payment_method", o.PaymentMethod).
				Msg("skipping order")
			s.record(&report.Skipped, id, "skipped")
			continue
		}
		if o.Status == order.StatusCompleted {
			s.record(&report.Skipped, id, "skipped")
			continue
		}

		d, err := s.gate.Evaluate(ctx, o, s.cfg.CountScheduledRechecks)
		if err != nil {
			logger.Error().Err(err).Stringer("decision", d).Msg("failed to persist evaluation")
		}

		if d == Defer {
			o.AddNote(noteRescheduled)
			if err := s.writer.save(ctx, o); err != nil {
				logger.Error().Err(err).Msg("failed to save order note")
			}
			reschedule = append(reschedule, o)
			s.record(&report.Rescheduled, id, "rescheduled")
			continue
		}

		if o.Status == order.StatusFailed {
			s.record(&report.Failed, id, "failed")
			continue
		}

		if err := o.SetStatus(order.StatusCompleted, noteScheduled); err != nil {
			logger.Error().Err(err).Msg("failed to complete order")
			s.record(&report.Skipped, id, "skipped")
			continue
		}
		if err := s.writer.save(ctx, o); err != nil {
			logger.Error().Err(err).Msg("failed to save completed order")
			s.record(&report.Skipped, id, "skipped")
			continue
		}
		logger.Info().Msg("order completed by scheduled recheck")
		s.record(&report.Completed, id, "completed")
	}

	if len(reschedule) > 0 {
		if _, err := s.Defer(ctx, reschedule...); err != nil {
			span.RecordError(err)
			ids := make([]string, len(reschedule))
			for i, o := range reschedule {
				ids[i] = o.ID
			}
			return report, &RescheduleError{OrderIDs: ids, Err: err}
		}
	}
	return report, nil
}

// Pending returns the pending recheck jobs for the hook.
func (s *Scheduler) Pending(ctx context.Context) ([]*job.Job, error) {
	jobs, err := s.jobs.FindPending(ctx, s.cfg.Hook)
	if err != nil {
		return nil, fmt.Errorf("find pending jobs: %w", err)
	}
	return jobs, nil
}

func (s *Scheduler) record(bucket *[]string, id, outcome string) {
	*bucket = append(*bucket, id)
	s.metrics.OrdersFired.WithLabelValues(outcome).Inc()
}
