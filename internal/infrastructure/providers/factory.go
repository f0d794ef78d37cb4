package providers

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the circuit breaker placed in front of each provider.
type BreakerSettings struct {
	MaxRequests   uint32
	Interval      time.Duration
	Timeout       time.Duration
	MinRequests   uint32
	FailureRatio  float64
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerSettings mirrors the settings used for payment calls.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  10,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

type Factory struct {
	settings        BreakerSettings
	providers       map[string]Provider
	circuitBreakers map[string]*gobreaker.CircuitBreaker[*PaymentStatus]
}

func NewFactory(settings BreakerSettings, providersList ...Provider) *Factory {
	f := &Factory{
		settings:        settings,
		providers:       make(map[string]Provider),
		circuitBreakers: make(map[string]*gobreaker.CircuitBreaker[*PaymentStatus]),
	}
	for _, p := range providersList {
		f.Register(p)
	}
	return f
}

func (f *Factory) Register(p Provider) {
	s := f.settings
	f.providers[p.Name()] = p
	f.circuitBreakers[p.Name()] = gobreaker.NewCircuitBreaker[*PaymentStatus](gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		OnStateChange: s.OnStateChange,
	})
}

// Get returns the named provider guarded by its circuit breaker.
func (f *Factory) Get(name string) (Provider, error) {
	p, ok := f.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrProviderNotFound)
	}
	return &guardedProvider{Provider: p, breaker: f.circuitBreakers[name]}, nil
}

type guardedProvider struct {
	Provider
	breaker *gobreaker.CircuitBreaker[*PaymentStatus]
}

func (g *guardedProvider) GetPaymentStatus(ctx context.Context, ref string) (*PaymentStatus, error) {
	status, err := g.breaker.Execute(func() (*PaymentStatus, error) {
		return g.Provider.GetPaymentStatus(ctx, ref)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%s: %w: %v", g.Name(), domainErrors.ErrProviderUnavailable, err)
		}
		return nil, err
	}
	return status, nil
}
