package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLogLevel(in), in)
	}
}

func TestInitLogger_WritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(InitLogger("info", &buf), "scheduler")

	logger.Debug().Msg("hidden")
	logger.Info().Str("order_id", "1001").Msg("deferred")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "deferred", entry["message"])
	assert.Equal(t, "1001", entry["order_id"])
	assert.Equal(t, "scheduler", entry["component"])
}

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.Decisions.WithLabelValues("defer").Inc()
	m.SchedulerJobs.WithLabelValues("created").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("defer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchedulerJobs.WithLabelValues("created")))
}

func TestMetrics_BreakerStateChanged(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.BreakerStateChanged("aco", gobreaker.StateClosed, gobreaker.StateOpen)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("aco")))

	m.BreakerStateChanged("aco", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("aco")))

	m.BreakerStateChanged("aco", gobreaker.StateHalfOpen, gobreaker.StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("aco")))
}
