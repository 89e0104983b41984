package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polisai/securehttp/pkg/domain"
)

// DefaultTimeout applies when a config carries no timeout.
const DefaultTimeout = 30 * time.Second

// Adapter runs one transport call per finalized config: it enforces the timeout,
// decodes the body, applies response interceptors, classifies the status and runs
// error interceptors on every rejection.
type Adapter struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.RWMutex
	response []domain.ResponseInterceptor
	errors   []domain.ErrorInterceptor
}

// NewAdapter creates an adapter over t.
func NewAdapter(t Transport, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		transport: t,
		logger:    logger.With("component", "transport.adapter", "transport", string(t.Kind())),
		now:       time.Now,
	}
}

// Kind reports the selected strategy.
func (a *Adapter) Kind() Kind {
	return a.transport.Kind()
}

// UseResponse appends response interceptors; they run in insertion order.
func (a *Adapter) UseResponse(interceptors ...domain.ResponseInterceptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.response = append(a.response, interceptors...)
}

// UseError appends error interceptors; they run in insertion order.
func (a *Adapter) UseError(interceptors ...domain.ErrorInterceptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append(a.errors, interceptors...)
}

func (a *Adapter) chains() ([]domain.ResponseInterceptor, []domain.ErrorInterceptor) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]domain.ResponseInterceptor(nil), a.response...), append([]domain.ErrorInterceptor(nil), a.errors...)
}

type roundTripResult struct {
	raw *RawResponse
	err error
}

// Do executes cfg. Failures are returned as *domain.TransportError or
// *domain.HTTPStatusError after all error interceptors observed them; encoding and
// interceptor failures are returned as-is.
func (a *Adapter) Do(ctx context.Context, cfg *domain.RequestConfig) (*domain.Response, error) {
	body, err := encodeBody(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The transport may ignore cancellation; the timer still rejects on expiry.
	results := make(chan roundTripResult, 1)
	go func() {
		raw, err := a.transport.RoundTrip(callCtx, cfg, body)
		results <- roundTripResult{raw: raw, err: err}
	}()

	var raw *RawResponse
	select {
	case res := <-results:
		if res.err != nil {
			return nil, a.reject(ctx, a.transportError(callCtx, cfg, res.err))
		}
		raw = res.raw
	case <-callCtx.Done():
		return nil, a.reject(ctx, a.transportError(callCtx, cfg, callCtx.Err()))
	}

	responseChain, _ := a.chains()

	resp := &domain.Response{
		Body:       decodeBody(raw.Body),
		StatusCode: raw.StatusCode,
		StatusText: raw.StatusText,
		Headers:    raw.Headers,
		Config:     cfg,
		Duration:   cfg.Elapsed(a.now()),
	}
	for i, interceptor := range responseChain {
		next, err := interceptor.InterceptResponse(ctx, resp)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, &domain.ConfigurationError{
				Capability: "response interceptor",
				Message:    fmt.Sprintf("response interceptor %d returned nil response", i),
			}
		}
		resp = next
	}

	if !domain.IsSuccessStatus(raw.StatusCode) {
		statusErr := domain.NewHTTPStatusError(resp)
		statusErr.Config = cfg
		return nil, a.reject(ctx, statusErr)
	}
	return resp, nil
}

func (a *Adapter) transportError(callCtx context.Context, cfg *domain.RequestConfig, cause error) *domain.TransportError {
	message := "Network error"
	aborted := false
	switch {
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		message, aborted = "Request timeout", true
	case errors.Is(callCtx.Err(), context.Canceled):
		message, aborted = "Request aborted", true
	}
	return &domain.TransportError{
		ErrorEnvelope: &domain.ErrorEnvelope{
			Message:  message,
			Config:   cfg,
			Duration: cfg.Elapsed(a.now()),
		},
		Cause:   cause,
		Aborted: aborted,
	}
}

// reject runs every error interceptor; none of them can suppress the rejection.
func (a *Adapter) reject(ctx context.Context, rejection domain.RequestError) error {
	_, errorChain := a.chains()
	for i, interceptor := range errorChain {
		if err := interceptor.InterceptError(ctx, rejection); err != nil {
			a.logger.LogAttrs(ctx, slog.LevelWarn, "error interceptor failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
		}
	}
	return rejection
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}

// decodeBody parses JSON, falling back to the raw text.
func decodeBody(data []byte) any {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}
	return decoded
}
