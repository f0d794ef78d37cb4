package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by scheduler.job_backend and scheduler.lock_backend.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Provider kinds accepted by provider.kind.
const (
	ProviderHTTP = "http"
	ProviderMock = "mock"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Provider      ProviderConfig      `mapstructure:"provider"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SSLMode         string        `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

// SchedulerConfig drives the completion gate and the retry scheduler.
type SchedulerConfig struct {
	Hook                   string        `mapstructure:"hook"`
	PaymentMethod          string        `mapstructure:"payment_method"`
	DefaultDelay           time.Duration `mapstructure:"default_delay"`
	MaxReschedules         int           `mapstructure:"max_reschedules"`
	CountScheduledRechecks bool          `mapstructure:"count_scheduled_rechecks"`
	JobBackend             string        `mapstructure:"job_backend"`
	LockBackend            string        `mapstructure:"lock_backend"`
	LockTTL                time.Duration `mapstructure:"lock_ttl"`
	LockRetries            int           `mapstructure:"lock_retries"`
	LockRetryDelay         time.Duration `mapstructure:"lock_retry_delay"`
}

type ProviderConfig struct {
	Kind                    string        `mapstructure:"kind"`
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	Timeout                 time.Duration `mapstructure:"timeout"`
	RetryAttempts           uint          `mapstructure:"retry_attempts"`
	RetryDelay              time.Duration `mapstructure:"retry_delay"`
	CircuitBreakerThreshold uint32        `mapstructure:"circuit_breaker_threshold"`
	CircuitBreakerRatio     float64       `mapstructure:"circuit_breaker_ratio"`
	CircuitBreakerTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
}

type WorkerConfig struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ClaimBatch     int           `mapstructure:"claim_batch"`
	BatchSize      int64         `mapstructure:"batch_size"`
	BlockDuration  time.Duration `mapstructure:"block_duration"`
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	ConsumeStreams bool          `mapstructure:"consume_streams"`
	// ClaimIdle is how long a delivered request may stay unacknowledged
	// before the worker reclaims it.
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
	PublishEvents  bool   `mapstructure:"publish_events"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("COMPLETION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read from config file if exists
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/ordercompletion")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}
	if c.Database.Host == "" {
		errs = append(errs, fmt.Errorf("database.host is required"))
	}
	if c.Database.Port <= 0 {
		errs = append(errs, fmt.Errorf("database.port must be positive"))
	}
	if c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	if c.Scheduler.Hook == "" {
		errs = append(errs, fmt.Errorf("scheduler.hook is required"))
	}
	if c.Scheduler.PaymentMethod == "" {
		errs = append(errs, fmt.Errorf("scheduler.payment_method is required"))
	}
	if c.Scheduler.DefaultDelay <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.default_delay must be positive"))
	}
	if c.Scheduler.MaxReschedules <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.max_reschedules must be positive"))
	}
	if !validBackend(c.Scheduler.JobBackend) {
		errs = append(errs, fmt.Errorf("scheduler.job_backend must be %q or %q, got %q", BackendPostgres, BackendRedis, c.Scheduler.JobBackend))
	}
	if !validBackend(c.Scheduler.LockBackend) {
		errs = append(errs, fmt.Errorf("scheduler.lock_backend must be %q or %q, got %q", BackendPostgres, BackendRedis, c.Scheduler.LockBackend))
	}
	if c.Scheduler.LockBackend == BackendPostgres && c.Scheduler.JobBackend != BackendPostgres {
		errs = append(errs, fmt.Errorf("scheduler.lock_backend postgres requires scheduler.job_backend postgres"))
	}
	if c.Scheduler.LockTTL <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.lock_ttl must be positive"))
	}

	switch c.Provider.Kind {
	case ProviderMock:
	case ProviderHTTP:
		if c.Provider.BaseURL == "" {
			errs = append(errs, fmt.Errorf("provider.base_url is required for http provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderHTTP, ProviderMock, c.Provider.Kind))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("provider.timeout must be positive"))
	}

	if c.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval must be positive"))
	}
	if c.Worker.ClaimBatch <= 0 {
		errs = append(errs, fmt.Errorf("worker.claim_batch must be positive"))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("worker.batch_size must be positive"))
	}
	if c.Worker.ClaimIdle <= 0 {
		errs = append(errs, fmt.Errorf("worker.claim_idle must be positive"))
	}

	// Production environment checks
	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Database.Password == "" {
			errs = append(errs, fmt.Errorf("database.password required in production"))
		}
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Provider.Kind == ProviderMock {
			errs = append(errs, fmt.Errorf("provider.kind mock is not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func validBackend(b string) bool {
	return b == BackendPostgres || b == BackendRedis
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 100)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "completion")
	v.SetDefault("database.database", "completion")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 2)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.ssl_mode", "disable")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	// Scheduler defaults
	v.SetDefault("scheduler.hook", "aco_scheduled_order_completion")
	v.SetDefault("scheduler.payment_method", "aco")
	v.SetDefault("scheduler.default_delay", "1h")
	v.SetDefault("scheduler.max_reschedules", 5)
	v.SetDefault("scheduler.count_scheduled_rechecks", false)
	v.SetDefault("scheduler.job_backend", BackendPostgres)
	v.SetDefault("scheduler.lock_backend", BackendPostgres)
	v.SetDefault("scheduler.lock_ttl", "30s")
	v.SetDefault("scheduler.lock_retries", 20)
	v.SetDefault("scheduler.lock_retry_delay", "100ms")

	// Provider defaults
	v.SetDefault("provider.kind", ProviderHTTP)
	v.SetDefault("provider.base_url", "https://api.avarda.com")
	v.SetDefault("provider.timeout", "10s")
	v.SetDefault("provider.retry_attempts", 3)
	v.SetDefault("provider.retry_delay", "200ms")
	v.SetDefault("provider.circuit_breaker_threshold", 10)
	v.SetDefault("provider.circuit_breaker_ratio", 0.6)
	v.SetDefault("provider.circuit_breaker_timeout", "30s")

	// Worker defaults
	v.SetDefault("worker.poll_interval", "15s")
	v.SetDefault("worker.claim_batch", 10)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.block_duration", "1s")
	v.SetDefault("worker.consumer_group", "order-completion")
	v.SetDefault("worker.consume_streams", true)
	v.SetDefault("worker.claim_idle", "1m")

	// Observability defaults
	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)
	v.SetDefault("observability.publish_events", true)

	// Instance ID
	v.SetDefault("instance_id", "completion-1")
}

func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the URL form used by golang-migrate.
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
