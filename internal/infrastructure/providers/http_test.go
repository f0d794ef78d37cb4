package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/pkg/retry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPProvider(url string) *HTTPProvider {
	return NewHTTPProvider(HTTPOptions{
		Name:    "aco",
		BaseURL: url,
		APIKey:  "secret",
		Timeout: time.Second,
		Retry:   retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		Logger:  zerolog.Nop(),
	})
}

func TestHTTPProvider_Processed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/partner/payments/pur_1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"purchaseId":"pur_1","processedBackEnd":true,"state":"Completed","mode":"B2C"}`))
	}))
	defer srv.Close()

	status, err := newTestHTTPProvider(srv.URL).GetPaymentStatus(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.True(t, status.Processed)
	assert.Equal(t, "Completed", status.State)
	assert.Equal(t, "B2C", status.Raw["mode"])
}

func TestHTTPProvider_NotProcessed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"purchaseId":"pur_1","processedBackEnd":false,"state":"WaitingForBackEnd"}`))
	}))
	defer srv.Close()

	status, err := newTestHTTPProvider(srv.URL).GetPaymentStatus(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.False(t, status.Processed)
}

func TestHTTPProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"purchaseId":"pur_1","processedBackEnd":true}`))
	}))
	defer srv.Close()

	status, err := newTestHTTPProvider(srv.URL).GetPaymentStatus(context.Background(), "pur_1")
	require.NoError(t, err)
	assert.True(t, status.Processed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPProvider_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestHTTPProvider(srv.URL).GetPaymentStatus(context.Background(), "pur_1")
	assert.ErrorIs(t, err, domainErrors.ErrProviderQueryFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPProvider_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestHTTPProvider(srv.URL).GetPaymentStatus(context.Background(), "pur_1")
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}

func TestHTTPProvider_EmptyReference(t *testing.T) {
	_, err := newTestHTTPProvider("http://127.0.0.1:0").GetPaymentStatus(context.Background(), "")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidInput)
}
