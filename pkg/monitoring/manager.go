package monitoring

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/performance"
	"github.com/polisai/securehttp/pkg/telemetry"
)

// CorrelationPrefix starts every correlation id a Manager assigns.
const CorrelationPrefix = "req_"

// Option customises a Manager.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	screenshots Screenshotter
	buffer      []telemetry.Option
}

// WithLogger sets the logger for the manager and its buffer.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithScreenshotter installs the screenshot hook used by the error interceptor.
func WithScreenshotter(s Screenshotter) Option {
	return func(o *options) { o.screenshots = s }
}

// WithTelemetryOptions passes options through to the telemetry buffer.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *options) { o.buffer = append(o.buffer, opts...) }
}

// Manager is the monitoring facade.
type Manager struct {
	telemetry      *telemetry.Buffer
	performance    *performance.Monitor
	captureOnError bool
	logger         *slog.Logger
	now            func() time.Time
	newID          func() string

	mu          sync.RWMutex
	screenshots Screenshotter

	stopCleanup context.CancelFunc
	disposeOnce sync.Once
}

// NewManager builds a manager and starts its telemetry flush loop.
func NewManager(cfg Config, opts ...Option) *Manager {
	o := options{logger: slog.Default(), screenshots: NoScreenshots{}}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "monitoring")

	buffer := telemetry.NewBuffer(cfg.telemetryConfig(), append([]telemetry.Option{telemetry.WithLogger(o.logger)}, o.buffer...)...)

	m := &Manager{
		telemetry:      buffer,
		performance:    performance.NewMonitor(buffer),
		captureOnError: cfg.CaptureScreenshotsOnError,
		logger:         logger,
		now:            time.Now,
		newID:          func() string { return CorrelationPrefix + uuid.NewString() },
		screenshots:    o.screenshots,
		stopCleanup:    func() {},
	}

	if cfg.SpanTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		if err := m.performance.StartCleanup(ctx, cfg.SpanTTL, cfg.SpanTTL); err != nil {
			cancel()
			logger.Warn("span cleanup disabled", "error", err)
		} else {
			m.stopCleanup = cancel
		}
	}
	return m
}

// Telemetry exposes the underlying buffer.
func (m *Manager) Telemetry() *telemetry.Buffer { return m.telemetry }

// Performance exposes the underlying monitor.
func (m *Manager) Performance() *performance.Monitor { return m.performance }

// RequestInterceptor stamps the start time and a fresh correlation id and opens a
// span for it.
func (m *Manager) RequestInterceptor() domain.RequestInterceptor {
	return domain.RequestInterceptorFunc(func(_ context.Context, cfg *domain.RequestConfig) (*domain.RequestConfig, error) {
		next := cfg.Clone()
		next.StartedAt = m.now()
		next.CorrelationID = m.newID()
		m.performance.StartOperation(next.CorrelationID)
		return next, nil
	})
}

// ResponseInterceptor records the duration, closes the span and reports the call.
func (m *Manager) ResponseInterceptor() domain.ResponseInterceptor {
	return domain.ResponseInterceptorFunc(func(_ context.Context, resp *domain.Response) (*domain.Response, error) {
		cfg := resp.Config
		if cfg != nil && !cfg.StartedAt.IsZero() {
			resp.Duration = cfg.Elapsed(m.now())
		}
		if cfg != nil && cfg.CorrelationID != "" {
			m.performance.EndOperation(cfg.CorrelationID, true, map[string]any{
				"status": resp.StatusCode,
				"url":    cfg.URL,
			})
		}
		m.performance.TrackHTTPRequest(cfg, resp, nil)
		return resp, nil
	})
}

// ErrorInterceptor closes the span, captures a screenshot when enabled, and reports
// the call and the exception. It always returns nil: the rejection continues to the
// caller unchanged.
func (m *Manager) ErrorInterceptor() domain.ErrorInterceptor {
	return domain.ErrorInterceptorFunc(func(ctx context.Context, rejection domain.RequestError) error {
		env := rejection.Envelope()
		cfg := env.Config
		if cfg == nil {
			cfg = &domain.RequestConfig{}
		}
		if !cfg.StartedAt.IsZero() {
			env.Duration = cfg.Elapsed(m.now())
		}

		if cfg.CorrelationID != "" {
			meta := map[string]any{"error": env.Message}
			if env.Response != nil {
				meta["status"] = env.Response.StatusCode
			}
			m.performance.EndOperation(cfg.CorrelationID, false, meta)
		}

		var screenshot string
		if m.captureOnError {
			screenshot = m.captureScreenshot(ctx)
		}

		m.performance.TrackHTTPRequest(cfg, env.Response, rejection)

		props := map[string]any{
			"url":    cfg.URL,
			"method": cfg.Method,
		}
		if env.Response != nil {
			props["status"] = env.Response.StatusCode
		}
		if screenshot != "" {
			props["screenshot"] = screenshot
		}
		m.telemetry.TrackException(rejection, props)
		return nil
	})
}

func (m *Manager) captureScreenshot(ctx context.Context) string {
	m.mu.RLock()
	shooter := m.screenshots
	m.mu.RUnlock()

	if shooter == nil || !shooter.Available() {
		return ""
	}
	image, err := shooter.Capture(ctx)
	if err != nil {
		m.logger.LogAttrs(ctx, slog.LevelWarn, "screenshot capture failed", slog.String("error", err.Error()))
		return ""
	}
	return image
}

// SetScreenshotter replaces the screenshot hook.
func (m *Manager) SetScreenshotter(s Screenshotter) {
	if s == nil {
		s = NoScreenshots{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.screenshots = s
}

// CaptureScreenshot captures on demand, returning "" when unavailable or failed.
func (m *Manager) CaptureScreenshot(ctx context.Context) string {
	return m.captureScreenshot(ctx)
}

func (m *Manager) TrackEvent(name string, props map[string]any, measurements map[string]float64) {
	m.telemetry.TrackEvent(name, props, measurements)
}

func (m *Manager) TrackMetric(name string, value float64, props map[string]any) {
	m.telemetry.TrackMetric(name, value, props)
}

func (m *Manager) TrackException(err error, props map[string]any) {
	m.telemetry.TrackException(err, props)
}

func (m *Manager) TrackTrace(message, severity string, props map[string]any) {
	m.telemetry.TrackTrace(message, severity, props)
}

// Flush makes one delivery attempt for the buffered telemetry.
func (m *Manager) Flush(ctx context.Context) {
	m.telemetry.Flush(ctx)
}

// Dispose stops span cleanup and the flush loop after one final flush. It is safe
// to call more than once.
func (m *Manager) Dispose(ctx context.Context) {
	m.disposeOnce.Do(func() {
		m.stopCleanup()
		m.telemetry.Dispose(ctx)
		m.logger.LogAttrs(ctx, slog.LevelDebug, "monitoring disposed")
	})
}
