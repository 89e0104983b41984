// Package security reports whether the host is trustworthy enough to send
// sensitive requests and can block requests from hosts that are not.
//
// Checks that a platform cannot perform report false ("assume secure"). That is a
// documented weakening: a Checker that cannot see a proxy or a tampered trust store
// does not claim to have verified their absence.
package security

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"golang.org/x/net/http/httpproxy"

	tlspkg "github.com/polisai/securehttp/internal/tls"
)

// Checker answers the three attestation questions.
type Checker interface {
	IsRooted(ctx context.Context) bool
	HasProxyEnabled(ctx context.Context) bool
	IsCertificateTampered(ctx context.Context) bool
}

// AssumeSecure answers false to every check.
type AssumeSecure struct{}

func (AssumeSecure) IsRooted(context.Context) bool { return false }

func (AssumeSecure) HasProxyEnabled(context.Context) bool { return false }

func (AssumeSecure) IsCertificateTampered(context.Context) bool { return false }

// EnvironmentChecker detects a proxy configured through HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY. With WithTLSProbe it also detects a probe host whose certificate fails
// verification. The root check assumes secure.
type EnvironmentChecker struct {
	AssumeSecure
	proxy *httpproxy.Config
	probe *url.URL
	tls   *tls.Config
}

// CheckerOption customises an EnvironmentChecker.
type CheckerOption func(*EnvironmentChecker)

// WithTLSProbe enables the certificate check: a handshake with the probe host
// using cfg, normally built with pinned keys or a private CA.
func WithTLSProbe(cfg *tls.Config) CheckerOption {
	return func(c *EnvironmentChecker) { c.tls = cfg }
}

// NewEnvironmentChecker reads the proxy environment once. probe is the URL whose
// routing is checked; an empty probe checks a generic HTTPS destination.
func NewEnvironmentChecker(probe string, opts ...CheckerOption) (*EnvironmentChecker, error) {
	return newEnvironmentChecker(httpproxy.FromEnvironment(), probe, opts...)
}

func newEnvironmentChecker(cfg *httpproxy.Config, probe string, opts ...CheckerOption) (*EnvironmentChecker, error) {
	if probe == "" {
		probe = "https://example.com"
	}
	u, err := url.Parse(probe)
	if err != nil {
		return nil, err
	}
	c := &EnvironmentChecker{proxy: cfg, probe: u}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *EnvironmentChecker) HasProxyEnabled(context.Context) bool {
	proxyURL, err := c.proxy.ProxyFunc()(c.probe)
	return err == nil && proxyURL != nil
}

// IsCertificateTampered handshakes with the probe host. Only a rejected identity
// counts; an unreachable host assumes secure.
func (c *EnvironmentChecker) IsCertificateTampered(ctx context.Context) bool {
	if c.tls == nil {
		return false
	}
	port := c.probe.Port()
	if port == "" {
		port = "443"
	}
	err := tlspkg.Probe(ctx, net.JoinHostPort(c.probe.Hostname(), port), c.tls)
	return tlspkg.IsVerificationFailure(err)
}
