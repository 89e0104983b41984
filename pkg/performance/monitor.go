// Package performance correlates request timing spans with the telemetry they
// produce.
package performance

import (
	"context"
	"errors"
	"maps"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/telemetry"
)

// Tracker receives the telemetry a Monitor emits. *telemetry.Buffer satisfies it.
type Tracker interface {
	TrackMetric(name string, value float64, props map[string]any)
	TrackRequest(name, url string, duration time.Duration, responseCode int, success bool, props map[string]any)
	TrackDependency(name, depType, target string, duration time.Duration, success bool, resultCode int, props map[string]any)
}

// Monitor keeps one start time per correlation id.
type Monitor struct {
	tracker Tracker
	now     func() time.Time

	mu    sync.Mutex
	spans map[string]time.Time
}

// NewMonitor creates a monitor that reports to tracker.
func NewMonitor(tracker Tracker) *Monitor {
	return &Monitor{
		tracker: tracker,
		now:     time.Now,
		spans:   make(map[string]time.Time),
	}
}

// StartOperation records the start of id, replacing any span already open for it.
func (m *Monitor) StartOperation(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans[id] = m.now()
}

// EndOperation closes the span for id and emits an operation.<id>.duration metric.
// It reports false when no span is open. The span is removed before the duration
// is computed, so concurrent calls for one id emit at most one metric.
func (m *Monitor) EndOperation(id string, success bool, metadata map[string]any) (time.Duration, bool) {
	m.mu.Lock()
	started, ok := m.spans[id]
	delete(m.spans, id)
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	duration := max(m.now().Sub(started), 0)

	props := map[string]any{"success": strconv.FormatBool(success)}
	maps.Copy(props, metadata)
	m.tracker.TrackMetric("operation."+id+".duration", float64(duration.Milliseconds()), props)
	return duration, true
}

// Pending returns the number of open spans.
func (m *Monitor) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spans)
}

// TrackHTTPRequest emits exactly one Request and one Dependency event for a
// completed call. resp may be nil when the call produced no response.
func (m *Monitor) TrackHTTPRequest(cfg *domain.RequestConfig, resp *domain.Response, err error) {
	var env *domain.ErrorEnvelope
	if reqErr, ok := domain.AsRequestError(err); ok {
		env = reqErr.Envelope()
	}
	if cfg == nil && resp != nil {
		cfg = resp.Config
	}
	if cfg == nil && env != nil {
		cfg = env.Config
	}
	if cfg == nil {
		return
	}

	var (
		duration time.Duration
		status   int
	)
	switch {
	case resp != nil:
		duration, status = resp.Duration, resp.StatusCode
	case env != nil:
		duration, status = env.Duration, env.Status()
	}
	success := err == nil && resp != nil && domain.IsSuccessStatus(status)

	method := cfg.Method
	if method == "" {
		method = "GET"
	}

	props := map[string]any{}
	if err != nil {
		props["errorType"] = telemetry.ErrorType(err)
	}
	maps.Copy(props, cfg.Metadata)

	m.tracker.TrackRequest(method, cfg.URL, duration, status, success, props)
	m.tracker.TrackDependency("HTTP", "HTTP", hostname(cfg.URL), duration, success, status,
		map[string]any{"method": method})
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}

// Sweep drops spans older than ttl and returns how many were removed. Spans for
// requests that never complete would otherwise stay open forever.
func (m *Monitor) Sweep(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, started := range m.spans {
		if now.Sub(started) > ttl {
			delete(m.spans, id)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps abandoned spans every interval until ctx is done.
func (m *Monitor) StartCleanup(ctx context.Context, interval, ttl time.Duration) error {
	if interval <= 0 || ttl <= 0 {
		return errors.New("cleanup interval and ttl must be positive")
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep(ttl)
			}
		}
	}()
	return nil
}
