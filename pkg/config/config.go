// Package config loads the YAML configuration shared by the CLI and embedding
// applications, applies environment overrides and hot-reloads the file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/polisai/securehttp/internal/governance"
	tlspkg "github.com/polisai/securehttp/internal/tls"
	"github.com/polisai/securehttp/pkg/client"
	"github.com/polisai/securehttp/pkg/logging"
	"github.com/polisai/securehttp/pkg/monitoring"
	"github.com/polisai/securehttp/pkg/telemetry"
)

// Config is the root of the configuration file.
type Config struct {
	Client     client.Config     `yaml:"client"`
	Monitoring monitoring.Config `yaml:"monitoring"`
	Logging    logging.Config    `yaml:"logging"`
	Tracing    TracingConfig     `yaml:"tracing"`
	Security   SecurityConfig    `yaml:"security"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	// Retry is applied by callers around client calls, never inside the client.
	Retry   governance.RetryConfig   `yaml:"retry"`
	Breaker governance.BreakerConfig `yaml:"breaker"`
	TLS     tlspkg.Config            `yaml:"tls"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	ServiceName  string            `yaml:"service_name"`
	Endpoint     string            `yaml:"endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	SampleRatio  float64           `yaml:"sample_ratio"`
	ResourceTags map[string]string `yaml:"resource_tags"`
}

// ProviderConfig converts to the telemetry bootstrap options.
func (t TracingConfig) ProviderConfig(version string) telemetry.ProviderConfig {
	return telemetry.ProviderConfig{
		ServiceName:    t.ServiceName,
		ServiceVersion: version,
		Endpoint:       t.Endpoint,
		Insecure:       t.Insecure,
		Headers:        t.Headers,
		SampleRatio:    t.SampleRatio,
		ResourceTags:   t.ResourceTags,
	}
}

// SecurityConfig controls device attestation.
type SecurityConfig struct {
	// Enforce installs the guard interceptor that blocks insecure hosts.
	Enforce bool `yaml:"enforce"`
	// ProxyProbe is the URL checked for proxy routing.
	ProxyProbe string `yaml:"proxy_probe"`
}

// MetricsConfig controls the Prometheus endpoint for buffer metrics.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Client:     client.Config{Timeout: client.DefaultTimeout},
		Monitoring: monitoring.DefaultConfig(),
		Logging:    logging.Config{Level: "info", Format: "json"},
		Tracing:    TracingConfig{ServiceName: "securehttp", SampleRatio: 1},
		Retry:      defaultRetry(),
		Breaker:    governance.DefaultBreakerConfig(),
	}
}

func defaultRetry() governance.RetryConfig {
	retry := governance.DefaultRetryConfig()
	retry.MaxRetries = 0
	return retry
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Client.BaseURL != "" {
		u, err := url.Parse(c.Client.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("client.base_url must be an absolute http(s) URL, got %q", c.Client.BaseURL))
		}
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, errors.New("client.timeout must not be negative"))
	}
	if c.Client.EnableCrypto && c.Client.CryptoKey == "" {
		errs = append(errs, errors.New("client.crypto_key is required when client.enable_crypto is set"))
	}
	if c.Monitoring.MaxBufferSize < 0 {
		errs = append(errs, errors.New("monitoring.max_buffer_size must not be negative"))
	}
	if c.Monitoring.FlushInterval < 0 {
		errs = append(errs, errors.New("monitoring.flush_interval must not be negative"))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}

	if !c.TLS.IsZero() {
		if _, err := tlspkg.BuildClient(c.TLS); err != nil {
			errs = append(errs, fmt.Errorf("tls: %w", err))
		}
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must not be negative"))
	}
	if c.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("breaker.max_failures must not be negative"))
	}
	if c.Breaker.Timeout < 0 {
		errs = append(errs, errors.New("breaker.timeout must not be negative"))
	}

	return errors.Join(errs...)
}

// applyEnvOverrides lets deployments set secrets and endpoints without editing the file.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SECUREHTTP_BASE_URL"); val != "" {
		cfg.Client.BaseURL = val
	}
	if val := os.Getenv("SECUREHTTP_CRYPTO_KEY"); val != "" {
		cfg.Client.CryptoKey = val
	}
	if val := os.Getenv("SECUREHTTP_ENABLE_CRYPTO"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			cfg.Client.EnableCrypto = enabled
		}
	}
	if val := os.Getenv("SECUREHTTP_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Client.Timeout = d
		}
	}
	if val := os.Getenv("SECUREHTTP_TELEMETRY_ENDPOINT"); val != "" {
		cfg.Monitoring.Endpoint = val
	}
	if val := os.Getenv("SECUREHTTP_INSTRUMENTATION_KEY"); val != "" {
		cfg.Monitoring.InstrumentationKey = val
	}
	if val := os.Getenv("SECUREHTTP_OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv("SECUREHTTP_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}
