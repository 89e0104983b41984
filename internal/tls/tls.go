package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInsecureSkipVerify rejects configurations that disable verification.
var ErrInsecureSkipVerify = errors.New("insecure skip verify is not permitted")

// Config is the file-level TLS section.
type Config struct {
	// CAFile is an absolute path to a PEM bundle that replaces the system roots.
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	ServerName string `yaml:"server_name"`
	// MinVersion is "1.2" (default) or "1.3".
	MinVersion string   `yaml:"min_version"`
	PinnedKeys []string `yaml:"pinned_keys"`

	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// IsZero reports whether nothing is configured.
func (c Config) IsZero() bool {
	return c.CAFile == "" && c.CertFile == "" && c.KeyFile == "" && c.ServerName == "" &&
		c.MinVersion == "" && len(c.PinnedKeys) == 0 && !c.InsecureSkipVerify
}

var secureCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// BuildClient constructs a TLS configuration for upstream connections.
func BuildClient(cfg Config) (*tls.Config, error) {
	if cfg.InsecureSkipVerify {
		return nil, ErrInsecureSkipVerify
	}

	minVersion, err := parseVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}

	clientConfig := &tls.Config{
		MinVersion:   minVersion,
		ServerName:   cfg.ServerName,
		CipherSuites: secureCipherSuites,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("both cert_file and key_file are required when supplying client certificates")
		}
		certificate, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		clientConfig.Certificates = []tls.Certificate{certificate}
	}

	if cfg.CAFile != "" {
		caPool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		clientConfig.RootCAs = caPool
	}

	if len(cfg.PinnedKeys) > 0 {
		pins, err := parsePins(cfg.PinnedKeys)
		if err != nil {
			return nil, err
		}
		clientConfig.VerifyConnection = pins.verify
	}

	return clientConfig, nil
}

func parseVersion(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "tls") {
	case "", "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	}
	return 0, fmt.Errorf("unsupported min_version %q (use 1.2 or 1.3)", v)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		return nil, fmt.Errorf("ca bundle path must be absolute: %q", path)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", cleanPath)
	}
	return pool, nil
}
