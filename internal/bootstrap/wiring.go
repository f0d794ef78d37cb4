package bootstrap

import (
	"fmt"

	"github.com/cassiomorais/ordercompletion/internal/application/completion"
	"github.com/cassiomorais/ordercompletion/internal/domain/job"
	"github.com/cassiomorais/ordercompletion/internal/domain/order"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/config"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/providers"
	infraRedis "github.com/cassiomorais/ordercompletion/internal/infrastructure/redis"
	"github.com/cassiomorais/ordercompletion/internal/repository/postgres"
	"github.com/cassiomorais/ordercompletion/pkg/retry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Provider names registered with the provider factory.
const (
	ProviderNameHTTP = "avarda"
	ProviderNameMock = "mock"
)

// Completion groups the wired completion components.
type Completion struct {
	Orders     *postgres.OrderRepository
	Gate       *completion.Gate
	Scheduler  *completion.Scheduler
	Service    *completion.Service
	Dispatcher *completion.Dispatcher
}

// Completion wires the gate, scheduler, service and dispatcher against the
// configured backends.
func (a *App) Completion() (*Completion, error) {
	return BuildCompletion(a.Config, a.Pool, a.Redis, a.Metrics, a.Logger)
}

// BuildCompletion wires the completion components from explicit dependencies.
func BuildCompletion(
	cfg *config.Config,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) (*Completion, error) {
	provider, err := NewProvider(cfg.Provider, metrics, logger)
	if err != nil {
		return nil, err
	}

	queue := NewJobQueue(cfg.Scheduler, pool, rdb)
	locker := NewLocker(cfg.Scheduler, pool, rdb, logger)
	notifier := NewNotifier(cfg.Observability, rdb)
	orders := postgres.NewOrderRepository(pool)

	gate := completion.NewGate(orders, provider, notifier, completion.GateConfig{
		MaxReschedules:  cfg.Scheduler.MaxReschedules,
		ProviderTimeout: cfg.Provider.Timeout,
	}, metrics, logger)

	scheduler := completion.NewScheduler(gate, orders, notifier, queue, locker, completion.SchedulerConfig{
		Hook:                   cfg.Scheduler.Hook,
		PaymentMethod:          cfg.Scheduler.PaymentMethod,
		DefaultDelay:           cfg.Scheduler.DefaultDelay,
		CountScheduledRechecks: cfg.Scheduler.CountScheduledRechecks,
	}, metrics, logger)

	return &Completion{
		Orders:     orders,
		Gate:       gate,
		Scheduler:  scheduler,
		Service:    completion.NewService(gate, scheduler, orders, notifier, cfg.Scheduler.PaymentMethod, metrics, logger),
		Dispatcher: completion.NewDispatcher(queue, locker, scheduler, cfg.Worker.PollInterval, cfg.Worker.ClaimBatch, metrics, logger),
	}, nil
}

// NewProvider returns the configured payment provider behind its circuit
// breaker.
func NewProvider(cfg config.ProviderConfig, metrics *observability.Metrics, logger zerolog.Logger) (providers.Provider, error) {
	settings := providers.DefaultBreakerSettings()
	if cfg.CircuitBreakerThreshold > 0 {
		settings.MinRequests = cfg.CircuitBreakerThreshold
	}
	if cfg.CircuitBreakerRatio > 0 {
		settings.FailureRatio = cfg.CircuitBreakerRatio
	}
	if cfg.CircuitBreakerTimeout > 0 {
		settings.Timeout = cfg.CircuitBreakerTimeout
	}
	settings.OnStateChange = metrics.BreakerStateChanged

	factory := providers.NewFactory(settings)

	var name string
	switch cfg.Kind {
	case config.ProviderMock:
		name = ProviderNameMock
		factory.Register(providers.NewMockProvider(name))
	case config.ProviderHTTP:
		name = ProviderNameHTTP
		retryCfg := retry.DefaultConfig()
		if cfg.RetryAttempts > 0 {
			retryCfg.MaxAttempts = cfg.RetryAttempts
		}
		if cfg.RetryDelay > 0 {
			retryCfg.InitialDelay = cfg.RetryDelay
		}
		factory.Register(providers.NewHTTPProvider(providers.HTTPOptions{
			Name:    name,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Retry:   retryCfg,
			Logger:  logger,
		}))
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}

	return factory.Get(name)
}

// NewJobQueue selects the job store backend.
func NewJobQueue(cfg config.SchedulerConfig, pool *pgxpool.Pool, rdb *redis.Client) job.Queue {
	if cfg.JobBackend == config.BackendRedis {
		return infraRedis.NewJobStore(rdb)
	}
	return postgres.NewJobStore(pool)
}

// NewLocker selects the lock backend guarding the recheck job.
func NewLocker(cfg config.SchedulerConfig, pool *pgxpool.Pool, rdb *redis.Client, logger zerolog.Logger) completion.Locker {
	if cfg.LockBackend == config.BackendRedis {
		return infraRedis.NewLocker(rdb, cfg.LockTTL, cfg.LockRetries, cfg.LockRetryDelay, logger)
	}
	return postgres.NewAdvisoryLocker(pool)
}

// NewNotifier returns the order status publisher, or nil when events are
// disabled.
func NewNotifier(cfg config.ObservabilityConfig, rdb *redis.Client) order.Notifier {
	if !cfg.PublishEvents || rdb == nil {
		return nil
	}
	return infraRedis.NewStreamProducer(rdb)
}
