package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "test",
			Password: "test",
			Database: "test_db",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Scheduler: SchedulerConfig{
			Hook:           "aco_scheduled_order_completion",
			PaymentMethod:  "aco",
			DefaultDelay:   time.Hour,
			MaxReschedules: 5,
			JobBackend:     BackendPostgres,
			LockBackend:    BackendPostgres,
			LockTTL:        30 * time.Second,
		},
		Provider: ProviderConfig{
			Kind:    ProviderHTTP,
			BaseURL: "https://api.example.test",
			Timeout: 10 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 15 * time.Second,
			ClaimBatch:   10,
			BatchSize:    10,
			ClaimIdle:    time.Minute,
		},
	}
}

func TestConfig_Validate_Success(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_InvalidServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"port too low", 0},
		{"port negative", -1},
		{"port too high", 99999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), "server.port")
		})
	}
}

func TestConfig_Validate_Scheduler(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing hook", func(c *Config) { c.Scheduler.Hook = "" }, "scheduler.hook"},
		{"missing payment method", func(c *Config) { c.Scheduler.PaymentMethod = "" }, "scheduler.payment_method"},
		{"zero delay", func(c *Config) { c.Scheduler.DefaultDelay = 0 }, "scheduler.default_delay"},
		{"zero bound", func(c *Config) { c.Scheduler.MaxReschedules = 0 }, "scheduler.max_reschedules"},
		{"unknown job backend", func(c *Config) { c.Scheduler.JobBackend = "memcache" }, "scheduler.job_backend"},
		{"unknown lock backend", func(c *Config) { c.Scheduler.LockBackend = "etcd" }, "scheduler.lock_backend"},
		{"advisory lock without postgres jobs", func(c *Config) { c.Scheduler.JobBackend = BackendRedis }, "requires scheduler.job_backend postgres"},
		{"zero lock ttl", func(c *Config) { c.Scheduler.LockTTL = 0 }, "scheduler.lock_ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConfig_Validate_RedisBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Scheduler.JobBackend = BackendRedis
	cfg.Scheduler.LockBackend = BackendRedis

	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_Provider(t *testing.T) {
	cfg := validConfig()
	cfg.Provider.BaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider.base_url")

	cfg = validConfig()
	cfg.Provider.Kind = ProviderMock
	cfg.Provider.BaseURL = ""
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Provider.Kind = "soap"
	assert.Error(t, cfg.Validate())
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Database.Host = ""
	cfg.Worker.ClaimBatch = 0
	cfg.Worker.ClaimIdle = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "database.host")
	assert.Contains(t, err.Error(), "worker.claim_batch")
	assert.Contains(t, err.Error(), "worker.claim_idle")
}

func TestConfig_Validate_Production(t *testing.T) {
	t.Setenv("ENV", "production")

	cfg := validConfig()
	cfg.Database.Password = ""
	cfg.Provider.Kind = ProviderMock

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.password required in production")
	assert.Contains(t, err.Error(), "auth.jwt_secret required in production")
	assert.Contains(t, err.Error(), "provider.kind mock")
}

func TestConfig_Validate_ShortJWTSecret(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.JWTSecret = "short"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret must be at least 32 characters")
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "aco_scheduled_order_completion", cfg.Scheduler.Hook)
	assert.Equal(t, "aco", cfg.Scheduler.PaymentMethod)
	assert.Equal(t, time.Hour, cfg.Scheduler.DefaultDelay)
	assert.Equal(t, 5, cfg.Scheduler.MaxReschedules)
	assert.False(t, cfg.Scheduler.CountScheduledRechecks)
	assert.Equal(t, BackendPostgres, cfg.Scheduler.JobBackend)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COMPLETION_SCHEDULER_DEFAULT_DELAY", "30m")
	t.Setenv("COMPLETION_PROVIDER_KIND", "mock")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Scheduler.DefaultDelay)
	assert.Equal(t, ProviderMock, cfg.Provider.Kind)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "postgres://u:p@db:5432/d?sslmode=disable", cfg.DatabaseURL())
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{Host: "cache", Port: 6380}
	assert.Equal(t, "cache:6380", cfg.RedisAddr())
}
