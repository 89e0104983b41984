package tls

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
)

// ErrPinMismatch is returned by the handshake when no peer certificate matches a pin.
var ErrPinMismatch = errors.New("certificate pin mismatch")

// Fingerprint returns the pin of cert: base64 SHA-256 of its SubjectPublicKeyInfo.
func Fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type pinSet map[string]struct{}

func parsePins(raw []string) (pinSet, error) {
	pins := make(pinSet, len(raw))
	for _, pin := range raw {
		decoded, err := base64.StdEncoding.DecodeString(pin)
		if err != nil || len(decoded) != sha256.Size {
			return nil, fmt.Errorf("invalid pin %q: want base64 SHA-256 digest", pin)
		}
		pins[pin] = struct{}{}
	}
	return pins, nil
}

func (p pinSet) verify(cs tls.ConnectionState) error {
	for _, cert := range cs.PeerCertificates {
		if _, ok := p[Fingerprint(cert)]; ok {
			return nil
		}
	}
	return ErrPinMismatch
}

// Probe completes one handshake with addr ("host:port") using cfg and closes the
// connection.
func Probe(ctx context.Context, addr string, cfg *tls.Config) error {
	cfg = cfg.Clone()
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return err
		}
		cfg.ServerName = host
	}

	dialer := &tls.Dialer{Config: cfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// IsVerificationFailure reports whether err is a handshake rejection of the
// peer's identity rather than a network failure.
func IsVerificationFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPinMismatch) {
		return true
	}
	var (
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
		invalid  x509.CertificateInvalidError
		verify   *tls.CertificateVerificationError
	)
	return errors.As(err, &unknown) || errors.As(err, &hostname) ||
		errors.As(err, &invalid) || errors.As(err, &verify)
}
