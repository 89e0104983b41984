package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/securehttp/pkg/domain"
)

// Kind names a transport strategy.
type Kind string

const (
	KindModern Kind = "modern"
	KindLegacy Kind = "legacy"
)

// RawResponse is the undecoded result of one round trip.
type RawResponse struct {
	StatusCode int
	StatusText string
	// Headers keys are lower-cased; repeated values are joined with ", ".
	Headers map[string]string
	Body    []byte
}

// Transport performs exactly one HTTP exchange for a finalized config.
type Transport interface {
	Kind() Kind
	RoundTrip(ctx context.Context, cfg *domain.RequestConfig, body []byte) (*RawResponse, error)
}

// New returns the strategy for kind. Unknown kinds select the modern transport.
// tlsConfig may be nil to use the system roots.
func New(kind Kind, tlsConfig *tls.Config) Transport {
	if kind == KindLegacy {
		return NewLegacy(tlsConfig)
	}
	return NewModern(&http.Client{Transport: otelhttp.NewTransport(modernBase(tlsConfig))})
}

func modernBase(tlsConfig *tls.Config) *http.Transport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ForceAttemptHTTP2 = true
	if tlsConfig != nil {
		base.TLSClientConfig = tlsConfig.Clone()
	}
	return base
}

// HTTPTransport is the modern strategy.
type HTTPTransport struct {
	client *http.Client
}

// NewModern wraps client. A nil client gets an HTTP/2-capable transport instrumented
// with otelhttp so trace context is propagated on every call.
func NewModern(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(modernBase(nil))}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Kind() Kind { return KindModern }

func (t *HTTPTransport) RoundTrip(ctx context.Context, cfg *domain.RequestConfig, body []byte) (*RawResponse, error) {
	return roundTrip(ctx, t.client, cfg, body, false)
}

// LegacyTransport is the fallback strategy: HTTP/1.1 only, one connection per call.
type LegacyTransport struct {
	client *http.Client
}

// NewLegacy builds the fallback transport.
func NewLegacy(tlsConfig *tls.Config) *LegacyTransport {
	base := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		ForceAttemptHTTP2: false,
		// A non-nil empty map disables HTTP/2 upgrade.
		TLSNextProto: map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	if tlsConfig != nil {
		base.TLSClientConfig = tlsConfig.Clone()
	}
	return &LegacyTransport{client: &http.Client{Transport: base}}
}

func (t *LegacyTransport) Kind() Kind { return KindLegacy }

func (t *LegacyTransport) RoundTrip(ctx context.Context, cfg *domain.RequestConfig, body []byte) (*RawResponse, error) {
	return roundTrip(ctx, t.client, cfg, body, true)
}

func roundTrip(ctx context.Context, client *http.Client, cfg *domain.RequestConfig, body []byte, closeConn bool) (*RawResponse, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Close = closeConn

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &RawResponse{
		StatusCode: resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    flattenHeaders(resp.Header),
		Body:       data,
	}, nil
}

func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, fmt.Sprintf("%d ", resp.StatusCode)); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, values := range h {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}
