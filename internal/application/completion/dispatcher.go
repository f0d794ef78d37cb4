package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/cassiomorais/ordercompletion/pkg/saga"
	"github.com/rs/zerolog"
)

// Dispatcher is the firing side of the job store: it claims due recheck jobs
// and hands their payload to the Scheduler.
type Dispatcher struct {
	queue        job.Queue
	locker       Locker
	scheduler    *Scheduler
	pollInterval time.Duration
	batch        int
	metrics      *observability.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	queue job.Queue,
	locker Locker,
	scheduler *Scheduler,
	pollInterval time.Duration,
	batch int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batch <= 0 {
		batch = 10
	}
	return &Dispatcher{
		queue:        queue,
		locker:       locker,
		scheduler:    scheduler,
		pollInterval: pollInterval,
		batch:        batch,
		metrics:      metrics,
		logger:       observability.WithComponent(logger, "job_dispatcher"),
		now:          time.Now,
	}
}

// Run polls for due jobs until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().
		Str("hook", d.scheduler.Hook()).
		Dur("poll_interval", d.pollInterval).
		Msg("job dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error().Err(err).Msg("dispatch due jobs")
		}

		select {
		case <-ctx.Done():
			d.logger.Info().Msg("job dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims the jobs due now and fires them. It returns the number
// of jobs fired.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	hook := d.scheduler.Hook()

	var claimed []*job.Job
	err := d.locker.WithLock(ctx, hook, func(ctx context.Context) error {
		var err error
		claimed, err = d.queue.ClaimDue(ctx, hook, d.now(), d.batch)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}

	// A claimed job is finished even if the caller goes away.
	runCtx := context.WithoutCancel(ctx)
	for _, j := range claimed {
		d.run(runCtx, j)
	}
	return len(claimed), nil
}

func (d *Dispatcher) run(ctx context.Context, j *job.Job) {
	logger := d.logger.With().Str("job_id", j.Handle.String()).Logger()
	start := time.Now()

	runErr := d.fire(ctx, j)
	d.metrics.FireDuration.Observe(time.Since(start).Seconds())

	var rerr *RescheduleError
	if errors.As(runErr, &rerr) {
		err := d.requeue(ctx, j, rerr.OrderIDs)
		if err == nil {
			logger.Warn().Err(runErr).
				Strs("order_ids", rerr.OrderIDs).
				Msg("held orders returned to the queue with the fired job")
			d.metrics.JobsFired.WithLabelValues("requeued").Inc()
			return
		}
		logger.Error().Err(err).
			Strs("order_ids", rerr.OrderIDs).
			Msg("held orders left without a recheck job")
		runErr = errors.Join(runErr, err)
	}

	status := "done"
	if runErr != nil {
		status = "failed"
		logger.Error().Err(runErr).Msg("scheduled completion run failed")
	}
	d.metrics.JobsFired.WithLabelValues(status).Inc()

	if err := d.queue.Finish(ctx, j.Handle, runErr); err != nil {
		logger.Error().Err(err).Msg("failed to finish job")
	}
}

// requeue hands ids back to the queue on the claimed job j. Without a pending
// job, j becomes the pending job and runs DefaultDelay from now. Otherwise
// the pending job is replaced by j carrying its payload plus ids at its run
// time.
func (d *Dispatcher) requeue(ctx context.Context, j *job.Job, ids []string) error {
	hook := d.scheduler.Hook()
	payload := job.NewPayload(ids...)

	err := d.locker.WithLock(ctx, hook, func(ctx context.Context) error {
		pending, err := d.queue.FindPending(ctx, hook)
		if err != nil {
			return fmt.Errorf("find pending jobs: %w", err)
		}
		if len(pending) == 0 {
			return d.queue.Requeue(ctx, j.Handle, d.now().Add(d.scheduler.cfg.DefaultDelay), payload)
		}

		existing := pending[0]
		merged := existing.Payload.Merge(existing.Payload.Missing(payload))
		return saga.New("requeue_recheck_job").
			AddStep(saga.Step{
				Name: "cancel_pending",
				Execute: func(ctx context.Context) error {
					return d.queue.Cancel(ctx, existing.Handle)
				},
				Compensate: func(ctx context.Context) error {
					_, err := d.queue.Schedule(ctx, hook, existing.RunAt, existing.Payload)
					return err
				},
			}).
			AddStep(saga.Step{
				Name: "requeue_fired",
				Execute: func(ctx context.Context) error {
					return d.queue.Requeue(ctx, j.Handle, existing.RunAt, merged)
				},
			}).
			Execute(ctx)
	})
	if err != nil {
		return fmt.Errorf("requeue job %s: %w", j.Handle, err)
	}
	return nil
}

func (d *Dispatcher) fire(ctx context.Context, j *job.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in scheduled run: %v", r)
		}
	}()

	report, err := d.scheduler.Fire(ctx, j.Payload)
	if report != nil {
		d.logger.Info().
			Str("job_id", j.Handle.String()).
			Int("completed", len(report.Completed)).
			Int("rescheduled", len(report.Rescheduled)).
			Int("failed", len(report.Failed)).
			Int("skipped", len(report.Skipped)).
			Msg("scheduled completion run finished")
	}
	return err
}
