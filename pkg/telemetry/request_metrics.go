package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/securehttp/pkg/domain"
)

// Request outcomes used as the request.outcome attribute.
const (
	OutcomeSuccess       = "success"
	OutcomeHTTPError     = "http_error"
	OutcomeTransport     = "transport_error"
	OutcomeTimeout       = "timeout"
	OutcomeCanceled      = "canceled"
	OutcomeCrypto        = "crypto_error"
	OutcomeConfiguration = "configuration_error"
	OutcomeOther         = "error"
)

var (
	metricsOnce              sync.Once
	metricsInitErr           error
	requestCounter           metric.Int64Counter
	requestTimeoutCounter    metric.Int64Counter
	requestCryptoCounter     metric.Int64Counter
	requestDurationHistogram metric.Float64Histogram
)

// RequestMetrics captures the fields recorded for one client request.
type RequestMetrics struct {
	Method     string
	Host       string
	Transport  string
	StatusCode int
	Encrypted  bool
	Outcome    string
	Duration   time.Duration
}

// Outcome classifies a request result for metrics.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) {
		switch {
		case errors.Is(transportErr.Cause, context.DeadlineExceeded):
			return OutcomeTimeout
		case transportErr.Aborted:
			return OutcomeCanceled
		}
		return OutcomeTransport
	}
	switch {
	case errors.Is(err, domain.ErrHTTPStatus):
		return OutcomeHTTPError
	case errors.Is(err, domain.ErrCrypto):
		return OutcomeCrypto
	case errors.Is(err, domain.ErrConfiguration):
		return OutcomeConfiguration
	}
	return OutcomeOther
}

// RecordRequestMetrics emits the request counter and latency histogram, plus the
// timeout and crypto counters for those outcomes.
func RecordRequestMetrics(ctx context.Context, m RequestMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("http.request.method", m.Method),
		attribute.String("server.address", m.Host),
		attribute.String("securehttp.transport", m.Transport),
		attribute.Int("http.response.status_code", m.StatusCode),
		attribute.Bool("securehttp.encrypted", m.Encrypted),
		attribute.String("request.outcome", m.Outcome),
	)

	requestCounter.Add(ctx, 1, attrs)
	if m.Duration > 0 {
		requestDurationHistogram.Record(ctx, float64(m.Duration)/float64(time.Millisecond), attrs)
	}

	switch m.Outcome {
	case OutcomeTimeout:
		requestTimeoutCounter.Add(ctx, 1, attrs)
	case OutcomeCrypto:
		requestCryptoCounter.Add(ctx, 1, attrs)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("securehttp.client")

		requestCounter, metricsInitErr = meter.Int64Counter(
			"securehttp.client.requests_total",
			metric.WithDescription("Client requests partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		requestTimeoutCounter, metricsInitErr = meter.Int64Counter(
			"securehttp.client.timeouts_total",
			metric.WithDescription("Client requests rejected by the timeout timer"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		requestCryptoCounter, metricsInitErr = meter.Int64Counter(
			"securehttp.client.crypto_failures_total",
			metric.WithDescription("Envelope encrypt or decrypt failures"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		requestDurationHistogram, metricsInitErr = meter.Float64Histogram(
			"securehttp.client.duration_ms",
			metric.WithDescription("Observed client request latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// ResetMetricsForTest clears cached instruments so tests can bind them to a fresh
// MeterProvider.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	requestCounter = nil
	requestTimeoutCounter = nil
	requestCryptoCounter = nil
	requestDurationHistogram = nil
}

// RecordSecurityEvent attaches the outcome of a device attestation to span without
// exposing anything beyond the failed check names.
func RecordSecurityEvent(span trace.Span, blocked bool, reasons []string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("security.blocked", blocked),
		attribute.Int("security.findings.count", len(reasons)),
	}
	if len(reasons) > 0 {
		attrs = append(attrs, attribute.StringSlice("security.reasons", reasons))
	}

	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}
