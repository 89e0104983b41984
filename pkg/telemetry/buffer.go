package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultAppVersion    = "1.0.0"
	DefaultUserID        = "anonymous"
	DefaultMaxBufferSize = 100
	DefaultFlushInterval = 30 * time.Second
)

// Flush triggers, used as metric labels.
const (
	TriggerSize     = "size"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
	TriggerDispose  = "dispose"
)

// Config configures a Buffer.
type Config struct {
	InstrumentationKey string
	Endpoint           string
	AppVersion         string
	UserID             string
	Enabled            bool
	MaxBufferSize      int
	FlushInterval      time.Duration
}

// Option customises a Buffer.
type Option func(*Buffer)

// WithSender overrides the sender derived from Config.Endpoint.
func WithSender(s Sender) Option {
	return func(b *Buffer) { b.sender = s }
}

// WithLogger sets the logger used for flush failures.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Buffer) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records buffer activity on m.
func WithMetrics(m *Metrics) Option {
	return func(b *Buffer) { b.metrics = m }
}

// Buffer accumulates telemetry events and delivers them in batches. Track methods
// never block on delivery: a full buffer signals the flush loop, which also flushes
// on every interval tick.
type Buffer struct {
	cfg     Config
	context Context
	sender  Sender
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time

	mu       sync.Mutex
	events   []Event
	disposed bool

	trigger     chan struct{}
	stop        chan struct{}
	loopDone    chan struct{}
	disposeOnce sync.Once
}

// NewBuffer creates a buffer and starts its flush loop. Call Dispose to stop it.
func NewBuffer(cfg Config, opts ...Option) *Buffer {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	b := &Buffer{
		cfg:      cfg,
		context:  NewContext(cfg.AppVersion, cfg.UserID),
		logger:   slog.Default(),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if cfg.Endpoint != "" {
		b.sender = NewHTTPSender(cfg.Endpoint, cfg.InstrumentationKey, nil)
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "telemetry.buffer", "session_id", b.context.Session.ID)

	go b.loop()
	return b
}

// Context returns the snapshot attached to every event.
func (b *Buffer) Context() Context {
	return b.context
}

// Enabled reports whether Track methods record events.
func (b *Buffer) Enabled() bool {
	return b.cfg.Enabled
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *Buffer) TrackEvent(name string, props map[string]any, measurements map[string]float64) {
	if measurements == nil {
		measurements = map[string]float64{}
	}
	b.track(KindEvent, EventData{Name: name, Properties: properties(props), Measurements: measurements})
}

func (b *Buffer) TrackMetric(name string, value float64, props map[string]any) {
	b.track(KindMetric, MetricData{Name: name, Value: value, Properties: properties(props)})
}

func (b *Buffer) TrackException(err error, props map[string]any) {
	if err == nil {
		return
	}
	b.track(KindException, ExceptionData{
		Message:    err.Error(),
		Stack:      errorChain(err),
		Type:       ErrorType(err),
		Properties: properties(props),
	})
}

func (b *Buffer) TrackRequest(name, url string, duration time.Duration, responseCode int, success bool, props map[string]any) {
	b.track(KindRequest, RequestData{
		Name:         name,
		URL:          url,
		Duration:     milliseconds(duration),
		ResponseCode: responseCode,
		Success:      success,
		Properties:   properties(props),
	})
}

func (b *Buffer) TrackDependency(name, depType, target string, duration time.Duration, success bool, resultCode int, props map[string]any) {
	b.track(KindDependency, DependencyData{
		Name:       name,
		Type:       depType,
		Target:     target,
		Duration:   milliseconds(duration),
		Success:    success,
		ResultCode: resultCode,
		Properties: properties(props),
	})
}

// TrackTrace records a log-style message. An empty severity means Information.
func (b *Buffer) TrackTrace(message, severity string, props map[string]any) {
	if severity == "" {
		severity = SeverityInformation
	}
	b.track(KindTrace, TraceData{Message: message, Severity: severity, Properties: properties(props)})
}

func (b *Buffer) track(kind Kind, data any) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.events = append(b.events, Event{
		Type:      kind,
		Timestamp: b.now().UTC(),
		Context:   b.context,
		Data:      data,
	})
	size := len(b.events)
	b.mu.Unlock()

	b.metrics.recordTracked(kind, size)

	if size >= b.cfg.MaxBufferSize {
		select {
		case b.trigger <- struct{}{}:
		default:
		}
	}
}

// Flush makes one delivery attempt for every buffered event. The buffer is swapped
// out before sending, so events tracked during the send are kept regardless of the
// outcome. A failed batch is logged and discarded.
func (b *Buffer) Flush(ctx context.Context) {
	b.flush(ctx, TriggerManual)
}

func (b *Buffer) flush(ctx context.Context, trigger string) {
	b.mu.Lock()
	if len(b.events) == 0 || b.sender == nil {
		b.mu.Unlock()
		return
	}
	items := b.events
	b.events = nil
	b.mu.Unlock()

	b.metrics.setBuffered(0)

	if err := b.sender.Send(ctx, items); err != nil {
		b.logger.LogAttrs(ctx, slog.LevelWarn, "telemetry flush failed",
			slog.String("trigger", trigger),
			slog.Int("events", len(items)),
			slog.String("error", err.Error()),
		)
		b.metrics.recordFlush(trigger, false, len(items))
		return
	}
	b.metrics.recordFlush(trigger, true, len(items))
}

func (b *Buffer) loop() {
	defer close(b.loopDone)

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.flush(context.Background(), TriggerInterval)
		case <-b.trigger:
			b.flush(context.Background(), TriggerSize)
		}
	}
}

// Dispose stops the flush loop and performs one final flush. Later calls are
// no-ops and the buffer records nothing afterwards.
func (b *Buffer) Dispose(ctx context.Context) {
	b.disposeOnce.Do(func() {
		close(b.stop)
		<-b.loopDone

		b.mu.Lock()
		b.disposed = true
		b.mu.Unlock()

		b.flush(ctx, TriggerDispose)
	})
}
