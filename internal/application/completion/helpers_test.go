package completion

import (
	"testing"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/providers"
	"github.com/cassiomorais/ordercompletion/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type fixture struct {
	orders    *testutil.MockOrderRepository
	jobs      *testutil.MockJobStore
	locker    *testutil.MockLocker
	notifier  *testutil.MockNotifier
	provider  *providers.MockProvider
	metrics   *observability.Metrics
	gate      *Gate
	scheduler *Scheduler
	service   *Service
	now       time.Time
}

func newFixture(t *testing.T, provider *providers.MockProvider, orders ...*order.Order) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, DefaultSchedulerConfig(), provider, orders...)
}

func newFixtureWithConfig(t *testing.T, cfg SchedulerConfig, provider *providers.MockProvider, orders ...*order.Order) *fixture {
	t.Helper()

	if provider == nil {
		provider = providers.NewMockProvider("mock", providers.WithLatency(0))
	}
	logger := zerolog.Nop()

	f := &fixture{
		orders:   testutil.NewMockOrderRepository(orders...),
		jobs:     testutil.NewMockJobStore(),
		locker:   testutil.NewMockLocker(),
		notifier: testutil.NewMockNotifier(),
		provider: provider,
		metrics:  observability.NewMetrics("test", prometheus.NewRegistry()),
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.gate = NewGate(f.orders, f.provider, f.notifier, DefaultGateConfig(), f.metrics, logger)
	f.scheduler = NewScheduler(f.gate, f.orders, f.notifier, f.jobs, f.locker, cfg, f.metrics, logger)
	f.scheduler.now = func() time.Time { return f.now }
	f.service = NewService(f.gate, f.scheduler, f.orders, f.notifier, cfg.PaymentMethod, f.metrics, logger)
	return f
}

func unprocessedProvider() *providers.MockProvider {
	return providers.NewMockProvider("mock", providers.WithLatency(0))
}

func processedProvider(refs ...string) *providers.MockProvider {
	return providers.NewMockProvider("mock", providers.WithLatency(0), providers.WithProcessed(refs...))
}
