package providers

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
)

type MockProvider struct {
	name             string
	failureRate      float64 // 0.0 to 1.0
	latency          time.Duration
	defaultProcessed bool

	mu        sync.RWMutex
	processed map[string]bool
	calls     int
}

type MockProviderOption func(*MockProvider)

func WithFailureRate(rate float64) MockProviderOption {
	return func(p *MockProvider) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockProviderOption {
	return func(p *MockProvider) { p.latency = d }
}

// WithDefaultProcessed sets the answer for purchases without an explicit entry.
func WithDefaultProcessed(processed bool) MockProviderOption {
	return func(p *MockProvider) { p.defaultProcessed = processed }
}

// WithProcessed marks the given purchase references as processed.
func WithProcessed(refs ...string) MockProviderOption {
	return func(p *MockProvider) {
		for _, ref := range refs {
			p.processed[ref] = true
		}
	}
}

func NewMockProvider(name string, opts ...MockProviderOption) *MockProvider {
	p := &MockProvider{
		name:      name,
		latency:   50 * time.Millisecond,
		processed: make(map[string]bool),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProvider) Name() string { return p.name }

// SetProcessed changes the answer for a purchase reference.
func (p *MockProvider) SetProcessed(ref string, processed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed[ref] = processed
}

// Calls returns the number of status queries served.
func (p *MockProvider) Calls() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls
}

func (p *MockProvider) GetPaymentStatus(ctx context.Context, ref string) (*PaymentStatus, error) {
	// Simulate latency
	select {
	case <-time.After(p.latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	p.calls++
	processed, ok := p.processed[ref]
	p.mu.Unlock()

	// Simulate failure
	if p.failureRate > 0 && rand.Float64() < p.failureRate {
		return nil, fmt.Errorf("%s: simulated status failure for %s: %w", p.name, ref, domainErrors.ErrProviderUnavailable)
	}

	if !ok {
		processed = p.defaultProcessed
	}
	state := "WaitingForBackEnd"
	if processed {
		state = "Completed"
	}
	return &PaymentStatus{
		PurchaseReference: ref,
		Processed:         processed,
		State:             state,
		Raw:               map[string]any{"purchaseId": ref, "processedBackEnd": processed, "state": state},
	}, nil
}
