package governance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	tlspkg "github.com/polisai/securehttp/internal/tls"
	"github.com/polisai/securehttp/pkg/domain"
)

// ErrMaxRetriesExceeded wraps the last rejection once every attempt has failed.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodOptions: true,
}

// IsIdempotent reports whether method is safe to replay.
func IsIdempotent(method string) bool {
	return idempotentMethods[strings.ToUpper(method)]
}

// RetryConfig defines retry behavior for client calls.
type RetryConfig struct {
	// MaxRetries is the number of replays after the first attempt (0 = none).
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
	// RetryableStatusCodes lists HTTPStatusError codes worth replaying.
	RetryableStatusCodes map[int]bool `yaml:"retryable_status_codes"`
	// RetryNonIdempotent allows replaying POST and PATCH.
	RetryNonIdempotent bool `yaml:"retry_non_idempotent"`
}

// DefaultRetryConfig returns the policy used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		RetryableStatusCodes: map[int]bool{
			http.StatusRequestTimeout:      true,
			http.StatusTooManyRequests:     true,
			http.StatusInternalServerError: true,
			http.StatusBadGateway:          true,
			http.StatusServiceUnavailable:  true,
			http.StatusGatewayTimeout:      true,
		},
	}
}

// RetryPolicy replays failed client calls according to the rejection variant.
type RetryPolicy struct {
	config RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy fills unset fields from DefaultRetryConfig.
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.RetryableStatusCodes == nil {
		config.RetryableStatusCodes = defaults.RetryableStatusCodes
	}
	return &RetryPolicy{config: config, sleep: sleepContext}
}

// Config returns the effective configuration.
func (rp *RetryPolicy) Config() RetryConfig {
	return rp.config
}

// Retryable classifies a rejection. Transport failures that were not aborted by the
// caller or the timer are retryable unless the server's certificate was rejected.
// HTTP statuses in RetryableStatusCodes are retryable. Crypto and configuration
// failures never are.
func (rp *RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrCrypto) || errors.Is(err, domain.ErrConfiguration) {
		return false
	}
	re, ok := domain.AsRequestError(err)
	if !ok {
		return false
	}
	switch e := re.(type) {
	case *domain.TransportError:
		return !e.Aborted && !tlspkg.IsVerificationFailure(e.Cause)
	case *domain.HTTPStatusError:
		return rp.config.RetryableStatusCodes[e.Status()]
	}
	return false
}

// ShouldRetry decides whether attempt (zero based) may be followed by another.
func (rp *RetryPolicy) ShouldRetry(method string, err error, attempt int) bool {
	if attempt >= rp.config.MaxRetries {
		return false
	}
	if !rp.config.RetryNonIdempotent && !IsIdempotent(method) {
		return false
	}
	return rp.Retryable(err)
}

// Backoff returns the delay before the replay following attempt.
func (rp *RetryPolicy) Backoff(attempt int) time.Duration {
	backoff := time.Duration(float64(rp.config.InitialBackoff) * math.Pow(rp.config.BackoffMultiplier, float64(attempt)))
	if backoff > rp.config.MaxBackoff || backoff <= 0 {
		backoff = rp.config.MaxBackoff
	}
	if rp.config.Jitter && backoff >= 4 {
		// #nosec G404 - jitter does not need a cryptographic source
		backoff += time.Duration(rand.Int64N(int64(backoff / 4)))
	}
	return backoff
}

// Do runs fn until it succeeds, returns a non-retryable rejection, or the attempts
// run out. The final rejection is wrapped with ErrMaxRetriesExceeded only when
// retries were actually spent on it.
func (rp *RetryPolicy) Do(
	ctx context.Context,
	method string,
	fn func(ctx context.Context) (*domain.Response, error),
) (*domain.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		if !rp.ShouldRetry(method, err, attempt) {
			if attempt > 0 && rp.Retryable(err) {
				return resp, fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, attempt+1, err)
			}
			return resp, err
		}

		if serr := rp.sleep(ctx, rp.Backoff(attempt)); serr != nil {
			return nil, serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
