package domain

import (
	"maps"
	"time"
)

// RequestConfig describes one in-flight request. Every interceptor stage receives the
// current config and must hand back a complete replacement.
type RequestConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	// Body is JSON-encoded by the transport. When crypto is enabled it holds an envelope.
	Body    any
	Timeout time.Duration

	// CorrelationID joins a performance span to the telemetry it produces.
	CorrelationID string
	// StartedAt is zero until a request interceptor records it.
	StartedAt time.Time

	// Metadata is copied into Request telemetry properties.
	Metadata map[string]any
}

// Clone returns a copy whose header and metadata maps can be mutated independently.
// The body is shared.
func (c *RequestConfig) Clone() *RequestConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Headers = maps.Clone(c.Headers)
	clone.Metadata = maps.Clone(c.Metadata)
	return &clone
}

// Elapsed reports the time since StartedAt, or zero when no start was recorded.
func (c *RequestConfig) Elapsed(now time.Time) time.Duration {
	if c == nil || c.StartedAt.IsZero() {
		return 0
	}
	if d := now.Sub(c.StartedAt); d > 0 {
		return d
	}
	return 0
}

// Response is the decoded result of a transport call.
type Response struct {
	// Body is the decoded JSON document, or the raw text when the payload is not JSON.
	Body       any
	StatusCode int
	StatusText string
	Headers    map[string]string
	Config     *RequestConfig
	Duration   time.Duration
}

// IsSuccessStatus reports whether a status code falls in [200, 400).
func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 400
}

// ErrorEnvelope is what error interceptors observe. Response is nil when the request
// never produced an HTTP response.
type ErrorEnvelope struct {
	Response *Response
	Message  string
	Config   *RequestConfig
	Duration time.Duration
}

// Status returns the response status code, or zero without a response.
func (e *ErrorEnvelope) Status() int {
	if e == nil || e.Response == nil {
		return 0
	}
	return e.Response.StatusCode
}
