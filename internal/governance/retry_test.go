package governance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tlspkg "github.com/polisai/securehttp/internal/tls"
	"github.com/polisai/securehttp/pkg/domain"
)

func statusErr(code int) error {
	return domain.NewHTTPStatusError(&domain.Response{StatusCode: code, Config: &domain.RequestConfig{}})
}

func transportErr(aborted bool) error {
	return &domain.TransportError{
		ErrorEnvelope: &domain.ErrorEnvelope{Message: "Network error"},
		Aborted:       aborted,
	}
}

func noSleep(policy *RetryPolicy) *RetryPolicy {
	policy.sleep = func(context.Context, time.Duration) error { return nil }
	return policy
}

func TestRetryPolicyRetryable(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", transportErr(false), true},
		{"aborted", transportErr(true), false},
		{"pin mismatch", &domain.TransportError{
			ErrorEnvelope: &domain.ErrorEnvelope{Message: "Network error"},
			Cause:         fmt.Errorf("Get \"https://api.example.com\": %w", tlspkg.ErrPinMismatch),
		}, false},
		{"503", statusErr(http.StatusServiceUnavailable), true},
		{"429", statusErr(http.StatusTooManyRequests), true},
		{"404", statusErr(http.StatusNotFound), false},
		{"crypto", domain.NewCryptoError("decrypt", errors.New("bad tag")), false},
		{"configuration", &domain.ConfigurationError{Capability: "encrypt"}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, policy.Retryable(tt.err))
		})
	}
}

func TestRetryPolicyDoRecovers(t *testing.T) {
	policy := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 3}))

	calls := 0
	resp, err := policy.Do(context.Background(), http.MethodGet, func(context.Context) (*domain.Response, error) {
		calls++
		if calls < 3 {
			return nil, statusErr(http.StatusBadGateway)
		}
		return &domain.Response{StatusCode: http.StatusOK}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyDoExhausts(t *testing.T) {
	policy := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 2}))

	calls := 0
	_, err := policy.Do(context.Background(), http.MethodGet, func(context.Context) (*domain.Response, error) {
		calls++
		return nil, transportErr(false)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestRetryPolicyDoStopsOnPermanentFailure(t *testing.T) {
	policy := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 5}))

	calls := 0
	_, err := policy.Do(context.Background(), http.MethodGet, func(context.Context) (*domain.Response, error) {
		calls++
		return nil, domain.NewCryptoError("decrypt", errors.New("bad tag"))
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, domain.ErrCrypto)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestRetryPolicySkipsNonIdempotent(t *testing.T) {
	policy := noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 3}))

	calls := 0
	_, err := policy.Do(context.Background(), http.MethodPost, func(context.Context) (*domain.Response, error) {
		calls++
		return nil, statusErr(http.StatusServiceUnavailable)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	policy = noSleep(NewRetryPolicy(RetryConfig{MaxRetries: 3, RetryNonIdempotent: true}))
	calls = 0
	_, _ = policy.Do(context.Background(), "post", func(context.Context) (*domain.Response, error) {
		calls++
		return nil, statusErr(http.StatusServiceUnavailable)
	})
	assert.Equal(t, 4, calls)
}

func TestRetryPolicyHonorsCancellation(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := policy.Do(ctx, http.MethodGet, func(context.Context) (*domain.Response, error) {
			calls++
			return nil, transportErr(false)
		})
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	})

	assert.Equal(t, 100*time.Millisecond, policy.Backoff(0))
	assert.Equal(t, 400*time.Millisecond, policy.Backoff(2))
	assert.Equal(t, time.Second, policy.Backoff(10))

	jittered := NewRetryPolicy(RetryConfig{InitialBackoff: 100 * time.Millisecond, Jitter: true})
	for i := 0; i < 20; i++ {
		d := jittered.Backoff(0)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.Less(t, d, 125*time.Millisecond)
	}
}

func TestIsIdempotent(t *testing.T) {
	assert.True(t, IsIdempotent("get"))
	assert.True(t, IsIdempotent(http.MethodDelete))
	assert.False(t, IsIdempotent(http.MethodPost))
	assert.False(t, IsIdempotent(http.MethodPatch))
}
