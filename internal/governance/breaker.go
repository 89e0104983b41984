package governance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/polisai/securehttp/pkg/domain"
)

// ErrCircuitOpen is returned without calling through while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the breaker's position.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// BreakerConfig defines thresholds for circuit breaking.
type BreakerConfig struct {
	// Enabled tells callers to route requests through a breaker.
	Enabled bool `yaml:"enabled"`
	// MaxFailures is the number of consecutive upstream failures that opens the circuit.
	MaxFailures int `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before admitting probes.
	Timeout time.Duration `yaml:"timeout"`
	// MaxHalfOpenRequests bounds concurrent probes while half-open.
	MaxHalfOpenRequests int `yaml:"max_half_open_requests"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// Breaker trips after consecutive upstream failures: transport failures that were
// not aborted, and 5xx statuses. Successes and other statuses reset the count.
// Aborts and errors raised before the network are ignored.
type Breaker struct {
	mu     sync.Mutex
	config BreakerConfig
	now    func() time.Time

	state     BreakerState
	failures  int
	openUntil time.Time
	probes    int
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	defaults := DefaultBreakerConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxHalfOpenRequests <= 0 {
		config.MaxHalfOpenRequests = defaults.MaxHalfOpenRequests
	}
	return &Breaker{config: config, now: time.Now, state: StateClosed}
}

// State returns the current state, moving open to half-open once the timeout elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Do calls fn when the circuit admits it and records the outcome.
func (b *Breaker) Do(
	ctx context.Context,
	fn func(ctx context.Context) (*domain.Response, error),
) (*domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.acquire(); err != nil {
		return nil, err
	}
	resp, err := fn(ctx)
	b.record(err)
	return resp, err
}

func (b *Breaker) advance() {
	if b.state == StateOpen && !b.now().Before(b.openUntil) {
		b.state = StateHalfOpen
		b.probes = 0
	}
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()

	switch b.state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.config.MaxHalfOpenRequests {
			return ErrCircuitOpen
		}
		b.probes++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	failed, counted := upstreamFailure(err)
	if b.state == StateHalfOpen {
		b.probes--
		if !counted {
			return
		}
		if failed {
			b.trip()
			return
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	if !counted {
		return
	}
	if !failed {
		b.failures = 0
		return
	}
	b.failures++
	if b.failures >= b.config.MaxFailures {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openUntil = b.now().Add(b.config.Timeout)
	b.failures = 0
	b.probes = 0
}

// upstreamFailure reports whether err says the upstream is unhealthy, and whether the
// outcome says anything about upstream health at all.
func upstreamFailure(err error) (failed, counted bool) {
	if err == nil {
		return false, true
	}
	re, ok := domain.AsRequestError(err)
	if !ok {
		return false, false
	}
	switch e := re.(type) {
	case *domain.TransportError:
		if e.Aborted {
			return false, false
		}
		return true, true
	case *domain.HTTPStatusError:
		if e.Status() >= 500 {
			return true, true
		}
		return false, true
	}
	return false, false
}
