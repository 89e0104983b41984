package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/envelope"
	"github.com/polisai/securehttp/pkg/monitoring"
	"github.com/polisai/securehttp/pkg/telemetry"
	"github.com/polisai/securehttp/pkg/transport"
)

const tracerName = "github.com/polisai/securehttp/pkg/client"

// Client sends requests through the secure pipeline. It is safe for concurrent
// use; interceptors registered while requests are in flight apply to later
// requests only.
type Client struct {
	cfg            Config
	provider       envelope.Provider
	sealer         *envelope.Sealer
	transport      transport.Transport
	tlsConfig      *tls.Config
	adapter        *transport.Adapter
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	monitoring     *monitoring.Manager
	now            func() time.Time

	mu             sync.RWMutex
	request        []domain.RequestInterceptor
	pendingRequest []domain.RequestInterceptor
}

// New creates a client. The transport is chosen once, here.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.transport == nil {
		kind := transport.KindModern
		if c.cfg.LegacyTransport {
			kind = transport.KindLegacy
		}
		c.transport = transport.New(kind, c.tlsConfig)
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName)
	c.logger = c.logger.With("component", "client")
	c.sealer = envelope.NewSealer(c.provider)
	c.adapter = transport.NewAdapter(c.transport, c.logger)

	c.request = append(c.request, c.pendingRequest...)
	c.pendingRequest = nil
	if c.monitoring != nil {
		c.request = append(c.request, c.monitoring.RequestInterceptor())
		c.adapter.UseResponse(c.monitoring.ResponseInterceptor())
		c.adapter.UseError(c.monitoring.ErrorInterceptor())
	}
	return c
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	out := c.cfg
	out.Headers = maps.Clone(c.cfg.Headers)
	return out
}

// TransportKind reports the transport chosen at construction.
func (c *Client) TransportKind() transport.Kind {
	return c.transport.Kind()
}

// Create returns a new client whose configuration is this one's with o applied.
// The crypto provider, logger, tracer provider and TLS settings are shared;
// interceptors are not copied.
func (c *Client) Create(o Overrides) *Client {
	merged := c.cfg.merge(o)

	opts := []Option{
		WithLogger(c.logger),
		WithCryptoProvider(c.provider),
		WithTracerProvider(c.tracerProvider),
		WithTLSConfig(c.tlsConfig),
	}
	if merged.LegacyTransport == c.cfg.LegacyTransport {
		opts = append(opts, WithTransport(c.transport))
	}

	child := New(merged, opts...)
	child.now = c.now
	return child
}

// UseRequest appends request interceptors; they run in registration order.
func (c *Client) UseRequest(interceptors ...domain.RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.request = append(c.request, interceptors...)
}

// UseResponse appends response interceptors; they run before status classification.
func (c *Client) UseResponse(interceptors ...domain.ResponseInterceptor) {
	c.adapter.UseResponse(interceptors...)
}

// UseError appends error interceptors; they observe every rejection.
func (c *Client) UseError(interceptors ...domain.ErrorInterceptor) {
	c.adapter.UseError(interceptors...)
}

// IsCancel reports whether err comes from a timeout or an abort.
func IsCancel(err error) bool {
	return domain.IsCancel(err)
}

func (c *Client) Get(ctx context.Context, path string, opts ...CallOption) (*domain.Response, error) {
	return c.Request(ctx, build(path, "GET", nil, opts))
}

func (c *Client) Delete(ctx context.Context, path string, opts ...CallOption) (*domain.Response, error) {
	return c.Request(ctx, build(path, "DELETE", nil, opts))
}

func (c *Client) Post(ctx context.Context, path string, body any, opts ...CallOption) (*domain.Response, error) {
	return c.Request(ctx, build(path, "POST", body, opts))
}

func (c *Client) Put(ctx context.Context, path string, body any, opts ...CallOption) (*domain.Response, error) {
	return c.Request(ctx, build(path, "PUT", body, opts))
}

func (c *Client) Patch(ctx context.Context, path string, body any, opts ...CallOption) (*domain.Response, error) {
	return c.Request(ctx, build(path, "PATCH", body, opts))
}

func build(path, method string, body any, opts []CallOption) *domain.RequestConfig {
	cfg := &domain.RequestConfig{URL: path, Method: method, Body: body}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Request runs one request through the pipeline. in is not modified.
func (c *Client) Request(ctx context.Context, in *domain.RequestConfig) (*domain.Response, error) {
	if in == nil {
		return nil, domain.ErrConfigRequired
	}

	started := c.now()
	ctx, span := c.tracer.Start(ctx, "securehttp.request", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	cfg, resp, err := c.do(ctx, in)
	c.observe(ctx, span, cfg, resp, err, c.now().Sub(started))
	return resp, err
}

func (c *Client) do(ctx context.Context, in *domain.RequestConfig) (*domain.RequestConfig, *domain.Response, error) {
	cfg := c.prepare(in)
	crypto := c.cfg.EnableCrypto && c.cfg.CryptoKey != ""

	if crypto && c.provider == nil {
		capability := "decrypt"
		if cfg.Body != nil {
			capability = "encrypt"
		}
		return cfg, nil, &domain.ConfigurationError{Capability: capability}
	}

	if crypto && cfg.Body != nil {
		sealed, err := c.sealer.Seal(ctx, cfg.Body, c.cfg.CryptoKey)
		if err != nil {
			return cfg, nil, err
		}
		cfg.Body = sealed
	}

	c.mu.RLock()
	chain := append([]domain.RequestInterceptor(nil), c.request...)
	c.mu.RUnlock()

	for i, interceptor := range chain {
		next, err := interceptor.InterceptRequest(ctx, cfg)
		if err == nil && next == nil {
			err = &domain.ConfigurationError{
				Capability: "request interceptor",
				Message:    fmt.Sprintf("request interceptor %d returned nil config", i),
			}
		}
		if err != nil {
			c.logger.LogAttrs(ctx, slog.LevelError, "request interceptor failed",
				slog.Int("index", i),
				slog.String("url", cfg.URL),
				slog.String("error", err.Error()),
			)
			return cfg, nil, err
		}
		cfg = next
	}

	resp, err := c.adapter.Do(ctx, cfg)
	if err != nil {
		return cfg, nil, err
	}

	if crypto {
		body, opened, err := c.sealer.Open(ctx, resp.Body, c.cfg.CryptoKey)
		if err != nil {
			return cfg, nil, err
		}
		if opened {
			resp.Body = body
		}
	}
	return cfg, resp, nil
}

// prepare resolves the URL, merges headers with per-call values winning and
// normalises the method.
func (c *Client) prepare(in *domain.RequestConfig) *domain.RequestConfig {
	cfg := in.Clone()
	cfg.URL = c.resolveURL(in.URL)

	headers := maps.Clone(c.cfg.Headers)
	if headers == nil {
		headers = map[string]string{}
	}
	maps.Copy(headers, in.Headers)
	cfg.Headers = headers

	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Method == "" {
		cfg.Method = "GET"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = c.cfg.Timeout
	}
	return cfg
}

func (c *Client) resolveURL(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	return c.cfg.BaseURL + raw
}

func (c *Client) observe(ctx context.Context, span trace.Span, cfg *domain.RequestConfig, resp *domain.Response, err error, elapsed time.Duration) {
	status := 0
	switch {
	case resp != nil:
		status = resp.StatusCode
	case err != nil:
		if reqErr, ok := domain.AsRequestError(err); ok {
			status = reqErr.Envelope().Status()
		}
	}
	encrypted := c.cfg.EnableCrypto && c.cfg.CryptoKey != ""

	span.SetAttributes(
		attribute.String("http.request.method", cfg.Method),
		attribute.String("url.full", cfg.URL),
		attribute.String("securehttp.transport", string(c.transport.Kind())),
		attribute.Bool("securehttp.encrypted", encrypted),
	)
	span.SetAttributes(telemetry.HeaderAttributes(cfg.Headers)...)
	if cfg.CorrelationID != "" {
		span.SetAttributes(attribute.String("securehttp.correlation_id", cfg.CorrelationID))
	}
	if status != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	telemetry.RecordRequestMetrics(ctx, telemetry.RequestMetrics{
		Method:     cfg.Method,
		Host:       host(cfg.URL),
		Transport:  string(c.transport.Kind()),
		StatusCode: status,
		Encrypted:  encrypted,
		Outcome:    telemetry.Outcome(err),
		Duration:   elapsed,
	})
}

func host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
