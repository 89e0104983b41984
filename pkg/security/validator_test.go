package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/net/http/httpproxy"
	"pgregory.net/rapid"

	"github.com/polisai/securehttp/pkg/domain"
)

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) IsRooted(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockChecker) HasProxyEnabled(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockChecker) IsCertificateTampered(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

type fixedChecker struct {
	rooted, proxy, tampered bool
}

func (f fixedChecker) IsRooted(context.Context) bool              { return f.rooted }
func (f fixedChecker) HasProxyEnabled(context.Context) bool       { return f.proxy }
func (f fixedChecker) IsCertificateTampered(context.Context) bool { return f.tampered }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestValidator_DefaultAssumesSecure(t *testing.T) {
	v := NewValidator(nil, quietLogger())
	report := v.Check(context.Background())
	assert.Equal(t, Report{Secure: true}, report)
	assert.NoError(t, v.ValidateOrError(context.Background()))
}

func TestValidator_RunsEveryCheck(t *testing.T) {
	checker := &MockChecker{}
	checker.On("IsRooted", mock.Anything).Return(true).Once()
	checker.On("HasProxyEnabled", mock.Anything).Return(false).Once()
	checker.On("IsCertificateTampered", mock.Anything).Return(true).Once()

	err := NewValidator(checker, quietLogger()).ValidateOrError(context.Background())

	require.ErrorIs(t, err, ErrInsecureDevice)
	assert.EqualError(t, err, "Security check failed: Device is rooted/jailbroken, Certificate tampering detected")
	checker.AssertExpectations(t)
}

func TestValidator_SecureIffNoCheckFails(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		checker := fixedChecker{
			rooted:   rapid.Bool().Draw(t, "rooted"),
			proxy:    rapid.Bool().Draw(t, "proxy"),
			tampered: rapid.Bool().Draw(t, "tampered"),
		}
		report := NewValidator(checker, quietLogger()).Check(context.Background())

		if report.Secure != (len(report.Reasons()) == 0) {
			t.Fatalf("secure=%v with reasons %v", report.Secure, report.Reasons())
		}
		if report.Rooted != checker.rooted || report.ProxyEnabled != checker.proxy || report.CertificateTampered != checker.tampered {
			t.Fatalf("report %+v does not match checker %+v", report, checker)
		}
	})
}

func TestEnvironmentChecker_Proxy(t *testing.T) {
	proxied, err := newEnvironmentChecker(&httpproxy.Config{HTTPSProxy: "http://proxy.local:3128"}, "")
	require.NoError(t, err)
	assert.True(t, proxied.HasProxyEnabled(context.Background()))
	assert.False(t, proxied.IsRooted(context.Background()))

	bypassed, err := newEnvironmentChecker(&httpproxy.Config{HTTPSProxy: "http://proxy.local:3128", NoProxy: "api.example.com"}, "https://api.example.com")
	require.NoError(t, err)
	assert.False(t, bypassed.HasProxyEnabled(context.Background()))

	direct, err := newEnvironmentChecker(&httpproxy.Config{}, "")
	require.NoError(t, err)
	assert.False(t, direct.HasProxyEnabled(context.Background()))
}

func TestEnvironmentChecker_CertificateTampering(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	roots := x509.NewCertPool()
	roots.AddCert(server.Certificate())

	unchecked, err := newEnvironmentChecker(&httpproxy.Config{}, server.URL)
	require.NoError(t, err)
	assert.False(t, unchecked.IsCertificateTampered(context.Background()))

	pinned, err := newEnvironmentChecker(&httpproxy.Config{}, server.URL,
		WithTLSProbe(&tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)
	assert.False(t, pinned.IsCertificateTampered(context.Background()))

	// Without the test CA the server's certificate is unknown.
	intercepted, err := newEnvironmentChecker(&httpproxy.Config{}, server.URL,
		WithTLSProbe(&tls.Config{MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)
	assert.True(t, intercepted.IsCertificateTampered(context.Background()))

	unreachable, err := newEnvironmentChecker(&httpproxy.Config{}, "https://127.0.0.1:1",
		WithTLSProbe(&tls.Config{MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)
	assert.False(t, unreachable.IsCertificateTampered(context.Background()))
}

func TestGuard(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "request")

	cfg := &domain.RequestConfig{URL: "https://api.example.com"}

	out, err := Guard(NewValidator(AssumeSecure{}, quietLogger())).InterceptRequest(ctx, cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, out)

	out, err = Guard(NewValidator(fixedChecker{proxy: true}, quietLogger())).InterceptRequest(ctx, cfg)
	assert.Nil(t, out)
	assert.EqualError(t, err, "Security check failed: Proxy detected")

	span.End()
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Len(t, spans[0].Events(), 2)
}
