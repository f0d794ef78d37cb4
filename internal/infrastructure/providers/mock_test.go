package providers

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider(t *testing.T) {
	provider := NewMockProvider("test")

	assert.NotNil(t, provider)
	assert.Equal(t, "test", provider.Name())
}

func TestMockProvider_ProcessedReference(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithProcessed("pur_1"))
	ctx := context.Background()

	status, err := provider.GetPaymentStatus(ctx, "pur_1")
	require.NoError(t, err)
	assert.True(t, status.Processed)
	assert.Equal(t, "pur_1", status.PurchaseReference)
	assert.Equal(t, "Completed", status.State)

	status, err = provider.GetPaymentStatus(ctx, "pur_2")
	require.NoError(t, err)
	assert.False(t, status.Processed)
	assert.Equal(t, 2, provider.Calls())
}

func TestMockProvider_DefaultProcessed(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithDefaultProcessed(true))

	status, err := provider.GetPaymentStatus(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, status.Processed)
}

func TestMockProvider_SetProcessed(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0))
	provider.SetProcessed("pur_1", true)

	status, err := provider.GetPaymentStatus(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.True(t, status.Processed)
}

func TestMockProvider_Failure(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(0), WithFailureRate(1.0))

	status, err := provider.GetPaymentStatus(context.Background(), "pur_1")
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
	assert.Nil(t, status)
}

func TestMockProvider_Latency(t *testing.T) {
	latency := 30 * time.Millisecond
	provider := NewMockProvider("test", WithLatency(latency))

	start := time.Now()
	_, err := provider.GetPaymentStatus(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), latency)
}

func TestMockProvider_ContextCancelled(t *testing.T) {
	provider := NewMockProvider("test", WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.GetPaymentStatus(ctx, "pur_1")
	assert.ErrorIs(t, err, context.Canceled)
}
