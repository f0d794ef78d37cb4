package completion

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/providers"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GateConfig holds the Completion Gate settings.
type GateConfig struct {
	// MaxReschedules is the reschedule count at which an order is failed.
	MaxReschedules int
	// ProviderTimeout bounds a single payment status query. Zero means the
	// provider's own timeout applies.
	ProviderTimeout time.Duration
}

// DefaultGateConfig returns the production defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MaxReschedules:  5,
		ProviderTimeout: 10 * time.Second,
	}
}

// Gate decides whether an order may be completed, must be held for a
// recheck, or has to be failed.
type Gate struct {
	provider providers.Provider
	writer   orderWriter
	cfg      GateConfig
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu      sync.RWMutex
	filters []DecisionFilter
}

// NewGate creates a new Gate. notifier may be nil.
func NewGate(
	orders order.Repository,
	provider providers.Provider,
	notifier order.Notifier,
	cfg GateConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Gate {
	logger = observability.WithComponent(logger, "completion_gate")
	return &Gate{
		provider: provider,
		writer:   orderWriter{repo: orders, notifier: notifier, logger: logger},
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// AddFilter registers a decision filter. Filters run in registration order
// and each one sees the decision returned by the previous one.
func (g *Gate) AddFilter(f DecisionFilter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.filters = append(g.filters, f)
}

// Evaluate checks the payment behind o with the provider and moves the order
// to on_hold or failed when it cannot be completed yet. When increment is
// true the reschedule counter is bumped on Defer.
//
// Provider errors are treated as "not processed" and never returned. The
// returned error is a persistence error; the decision is still valid.
func (g *Gate) Evaluate(ctx context.Context, o *order.Order, increment bool) (Decision, error) {
	ctx, span := observability.Tracer().Start(ctx, "completion.Evaluate",
		trace.WithAttributes(
			attribute.String("order.id", o.ID),
			attribute.Bool("increment", increment),
		))
	defer span.End()

	logger := g.logger.With().Str("order_id", o.ID).Logger()

	switch o.Status {
	case order.StatusFailed:
		return g.decide(ctx, Failed, o, nil), nil
	case order.StatusCompleted:
		return g.decide(ctx, Allow, o, nil), nil
	}

	var status *providers.PaymentStatus
	// Without a purchase reference the counter restarts at zero.
	count := 0

	if ref := o.PurchaseReference(); ref != "" {
		count = o.RescheduleCount()
		st, err := g.queryStatus(ctx, ref)
		if err != nil {
			g.metrics.ProviderErrors.WithLabelValues(g.provider.Name()).Inc()
			logger.Warn().Err(err).
				Str("provider", g.provider.Name()).
				Str("purchase_reference", ref).
				Msg("payment status query failed, treating payment as not processed")
		} else {
			status = st
			if st.Processed {
				return g.decide(ctx, Allow, o, status), nil
			}
		}

		if count >= g.cfg.MaxReschedules {
			if err := o.SetStatus(order.StatusFailed, fmt.Sprintf(noteFailed, count)); err != nil {
				return g.decide(ctx, Failed, o, status), err
			}
			logger.Warn().Err(domainErrors.ErrRetryBoundExceeded).
				Int("reschedule_count", count).
				Msg("order marked failed")
			if err := g.writer.save(ctx, o); err != nil {
				return g.decide(ctx, Failed, o, status), fmt.Errorf("save order: %w", err)
			}
			return g.decide(ctx, Failed, o, status), nil
		}
	}

	if err := o.SetStatus(order.StatusOnHold, noteOnHold); err != nil {
		return g.decide(ctx, Defer, o, status), err
	}
	if increment {
		o.SetRescheduleCount(count + 1)
	}
	if err := g.writer.save(ctx, o); err != nil {
		return g.decide(ctx, Defer, o, status), fmt.Errorf("save order: %w", err)
	}
	logger.Info().
		Int("reschedule_count", o.RescheduleCount()).
		Msg("order held until the payment is processed")
	return g.decide(ctx, Defer, o, status), nil
}

func (g *Gate) queryStatus(ctx context.Context, ref string) (*providers.PaymentStatus, error) {
	if g.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ProviderTimeout)
		defer cancel()
	}
	st, err := g.provider.GetPaymentStatus(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrProviderQueryFailed, err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: empty response", domainErrors.ErrProviderQueryFailed)
	}
	return st, nil
}

// decide runs d through the filter chain and records the final decision.
func (g *Gate) decide(ctx context.Context, d Decision, o *order.Order, status *providers.PaymentStatus) Decision {
	g.mu.RLock()
	filters := g.filters
	g.mu.RUnlock()

	computed := d
	for _, f := range filters {
		d = f(ctx, d, o, status)
	}
	if d != computed {
		g.logger.Info().
			Str("order_id", o.ID).
			Stringer("computed", computed).
			Stringer("decision", d).
			Msg("decision overridden by filter")
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("decision", d.String()))
	g.metrics.Decisions.WithLabelValues(d.String()).Inc()
	return d
}
