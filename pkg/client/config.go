package client

import (
	"maps"
	"time"
)

// DefaultTimeout bounds a request when neither the client nor the call sets one.
const DefaultTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL string            `yaml:"base_url"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
	// CryptoKey is passed opaquely to the crypto provider.
	CryptoKey    string `yaml:"crypto_key"`
	EnableCrypto bool   `yaml:"enable_crypto"`
	// LegacyTransport selects the HTTP/1.1 fallback transport.
	LegacyTransport bool `yaml:"legacy_transport"`
}

// Overrides are applied by Client.Create. Empty strings, nil maps, zero durations
// and nil pointers keep the parent's value.
type Overrides struct {
	BaseURL         string
	Headers         map[string]string
	Timeout         time.Duration
	CryptoKey       string
	EnableCrypto    *bool
	LegacyTransport *bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	c.Headers = maps.Clone(c.Headers)
	if c.Headers == nil {
		c.Headers = map[string]string{}
	}
	return c
}

// merge layers o over c. Override headers win over the parent's.
func (c Config) merge(o Overrides) Config {
	out := c
	out.Headers = maps.Clone(c.Headers)
	if out.Headers == nil {
		out.Headers = map[string]string{}
	}
	maps.Copy(out.Headers, o.Headers)

	if o.BaseURL != "" {
		out.BaseURL = o.BaseURL
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.CryptoKey != "" {
		out.CryptoKey = o.CryptoKey
	}
	if o.EnableCrypto != nil {
		out.EnableCrypto = *o.EnableCrypto
	}
	if o.LegacyTransport != nil {
		out.LegacyTransport = *o.LegacyTransport
	}
	return out
}
