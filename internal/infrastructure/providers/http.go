package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/pkg/retry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPProvider queries a checkout provider's partner API for purchase status.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	retry   retry.Config
	logger  zerolog.Logger
}

// HTTPOptions configures an HTTPProvider.
type HTTPOptions struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   retry.Config
	Logger  zerolog.Logger
}

// paymentResponse is the subset of the partner payment resource we read.
type paymentResponse struct {
	PurchaseID       string `json:"purchaseId"`
	ProcessedBackEnd bool   `json:"processedBackEnd"`
	State            string `json:"state"`
}

func NewHTTPProvider(opts HTTPOptions) *HTTPProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	p := &HTTPProvider{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		retry:  opts.Retry,
		logger: opts.Logger,
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = retry.DefaultConfig()
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = func(n uint, err error) {
			p.logger.Debug().Err(err).Uint("attempt", n+1).Str("provider", p.name).Msg("Retrying payment status query")
		}
	}
	return p
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) GetPaymentStatus(ctx context.Context, ref string) (*PaymentStatus, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty purchase reference: %w", domainErrors.ErrInvalidInput)
	}
	return retry.DoWithResult(ctx, p.retry, func() (*PaymentStatus, error) {
		return p.fetch(ctx, ref)
	})
}

func (p *HTTPProvider) fetch(ctx context.Context, ref string) (*PaymentStatus, error) {
	endpoint := p.baseURL + "/api/partner/payments/" + url.PathEscape(ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("%w: %v", domainErrors.ErrProviderTimeout, err))
		}
		return nil, fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: status %d", domainErrors.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, retry.Unrecoverable(fmt.Errorf("%w: status %d", domainErrors.ErrProviderQueryFailed, resp.StatusCode))
	}

	var decoded paymentResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("decode payment status: %w", err))
	}
	raw := make(map[string]any)
	_ = json.Unmarshal(body, &raw)

	purchaseID := decoded.PurchaseID
	if purchaseID == "" {
		purchaseID = ref
	}
	return &PaymentStatus{
		PurchaseReference: purchaseID,
		Processed:         decoded.ProcessedBackEnd,
		State:             decoded.State,
		Raw:               raw,
	}, nil
}
