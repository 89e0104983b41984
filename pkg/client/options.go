package client

import (
	"crypto/tls"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/envelope"
	"github.com/polisai/securehttp/pkg/monitoring"
	"github.com/polisai/securehttp/pkg/transport"
)

// Option customises a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCryptoProvider supplies the encrypt, decrypt and sign capabilities. Without
// one, any request that needs crypto fails with a *domain.ConfigurationError.
func WithCryptoProvider(p envelope.Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithTransport replaces the transport selected from Config.LegacyTransport.
func WithTransport(t transport.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithTLSConfig sets the TLS settings of the transport built from
// Config.LegacyTransport. It has no effect together with WithTransport.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = cfg }
}

// WithTracerProvider sets the provider for request spans. The global provider is
// used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracerProvider = tp }
}

// WithMonitoring installs the manager's request, response and error interceptors.
func WithMonitoring(m *monitoring.Manager) Option {
	return func(c *Client) { c.monitoring = m }
}

// WithRequestInterceptors registers request interceptors at construction.
func WithRequestInterceptors(interceptors ...domain.RequestInterceptor) Option {
	return func(c *Client) { c.pendingRequest = append(c.pendingRequest, interceptors...) }
}

// CallOption adjusts a single request built by Get, Post, Put, Patch or Delete.
type CallOption func(*domain.RequestConfig)

// WithHeader sets one per-call header.
func WithHeader(key, value string) CallOption {
	return func(cfg *domain.RequestConfig) {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		cfg.Headers[key] = value
	}
}

// WithHeaders sets several per-call headers.
func WithHeaders(headers map[string]string) CallOption {
	return func(cfg *domain.RequestConfig) {
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		maps.Copy(cfg.Headers, headers)
	}
}

// WithTimeout overrides the client timeout for one call.
func WithTimeout(d time.Duration) CallOption {
	return func(cfg *domain.RequestConfig) { cfg.Timeout = d }
}

// WithMetadata attaches properties reported with the call's Request telemetry.
func WithMetadata(metadata map[string]any) CallOption {
	return func(cfg *domain.RequestConfig) {
		if cfg.Metadata == nil {
			cfg.Metadata = map[string]any{}
		}
		maps.Copy(cfg.Metadata, metadata)
	}
}
