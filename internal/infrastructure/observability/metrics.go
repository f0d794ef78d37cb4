package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all application metrics
type Metrics struct {
	// Completion gate metrics
	Decisions          *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	CompletionRequests *prometheus.CounterVec

	// Scheduler metrics
	SchedulerJobs       *prometheus.CounterVec
	InvariantViolations prometheus.Counter
	PendingOrders       prometheus.Gauge

	// Dispatcher metrics
	JobsFired    *prometheus.CounterVec
	OrdersFired  *prometheus.CounterVec
	FireDuration prometheus.Histogram

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Stream metrics
	StreamMessagesProcessed *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completion_decisions_total",
				Help:      "Completion gate decisions by outcome",
			},
			[]string{"decision"},
		),
		ProviderErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_query_errors_total",
				Help:      "Payment status queries that failed and were treated as not processed",
			},
			[]string{"provider"},
		),
		CompletionRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "completion_requests_total",
				Help:      "Order completion attempts by result",
			},
			[]string{"result"},
		),
		SchedulerJobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_jobs_total",
				Help:      "Defer outcomes on the recheck job (created, merged, noop)",
			},
			[]string{"action"},
		),
		InvariantViolations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_invariant_violations_total",
				Help:      "Times more than one pending recheck job was found",
			},
		),
		PendingOrders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_pending_orders",
				Help:      "Order IDs in the pending recheck job after the last defer",
			},
		),
		JobsFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_fired_total",
				Help:      "Recheck jobs fired by status",
			},
			[]string{"status"},
		),
		OrdersFired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_rechecked_total",
				Help:      "Orders processed by a recheck job by outcome",
			},
			[]string{"outcome"},
		),
		FireDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_fire_duration_seconds",
				Help:      "Recheck job run duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		StreamMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_messages_processed_total",
				Help:      "Total number of stream messages processed",
			},
			[]string{"stream", "status"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.Decisions,
		m.ProviderErrors,
		m.CompletionRequests,
		m.SchedulerJobs,
		m.InvariantViolations,
		m.PendingOrders,
		m.JobsFired,
		m.OrdersFired,
		m.FireDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.StreamMessagesProcessed,
	)

	return m
}

// BreakerStateChanged records a circuit breaker transition. It matches
// gobreaker.Settings.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}
