package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "securehttp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Client.Timeout)
	assert.True(t, cfg.Monitoring.Enabled)
	assert.True(t, cfg.Monitoring.CaptureScreenshotsOnError)
	assert.Equal(t, 100, cfg.Monitoring.MaxBufferSize)
	assert.Equal(t, 30*time.Second, cfg.Monitoring.FlushInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Client.EnableCrypto)
}

func TestParse_OverridesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CRYPTO_KEY", "expanded-key")

	cfg, err := Parse([]byte(`
client:
  base_url: https://api.example.com
  timeout: 5s
  enable_crypto: true
  crypto_key: ${TEST_CRYPTO_KEY}
  headers:
    X-App: demo
monitoring:
  enabled: false
  flush_interval: 10s
  max_buffer_size: 3
tracing:
  sample_ratio: 0.25
`))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.Client.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "expanded-key", cfg.Client.CryptoKey)
	assert.Equal(t, "demo", cfg.Client.Headers["X-App"])
	assert.False(t, cfg.Monitoring.Enabled)
	assert.True(t, cfg.Monitoring.CaptureScreenshotsOnError)
	assert.Equal(t, 10*time.Second, cfg.Monitoring.FlushInterval)
	assert.Equal(t, 3, cfg.Monitoring.MaxBufferSize)
	assert.Equal(t, 0.25, cfg.Tracing.ProviderConfig("1.0.0").SampleRatio)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("SECUREHTTP_BASE_URL", "https://env.example.com")
	t.Setenv("SECUREHTTP_TIMEOUT", "2s")
	t.Setenv("SECUREHTTP_TELEMETRY_ENDPOINT", "https://collector.example.com")

	cfg, err := Parse([]byte("client: { base_url: https://file.example.com }"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Client.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "https://collector.example.com", cfg.Monitoring.Endpoint)
}

func TestParse_Retry(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Retry.MaxRetries)
	assert.True(t, cfg.Retry.RetryableStatusCodes[503])

	cfg, err = Parse([]byte(`
retry:
  max_retries: 2
  initial_backoff: 50ms
  jitter: false
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.InitialBackoff)
	assert.False(t, cfg.Retry.Jitter)

	_, err = Parse([]byte("retry: { max_retries: -1 }"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry.max_retries")
}

func TestParse_Breaker(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)
	assert.False(t, cfg.Breaker.Enabled)
	assert.Equal(t, 5, cfg.Breaker.MaxFailures)

	cfg, err = Parse([]byte(`
breaker:
  enabled: true
  max_failures: 2
  timeout: 10s
`))
	require.NoError(t, err)
	assert.True(t, cfg.Breaker.Enabled)
	assert.Equal(t, 2, cfg.Breaker.MaxFailures)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, 1, cfg.Breaker.MaxHalfOpenRequests)

	_, err = Parse([]byte("breaker: { max_failures: -1, timeout: -1s }"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "breaker.max_failures")
	assert.Contains(t, err.Error(), "breaker.timeout")
}

func TestParse_Validation(t *testing.T) {
	_, err := Parse([]byte(`
client:
  base_url: api.example.com
  enable_crypto: true
tracing:
  sample_ratio: 2
tls:
  insecure_skip_verify: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client.base_url")
	assert.Contains(t, err.Error(), "client.crypto_key")
	assert.Contains(t, err.Error(), "tracing.sample_ratio")
	assert.Contains(t, err.Error(), "tls: insecure skip verify")
}

func TestLoader_Load(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "client: { base_url: https://api.example.com }")

	loader, err := NewLoader(path, quietLogger())
	require.NoError(t, err)
	assert.Nil(t, loader.Current())

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, loader.Current())

	_, err = NewLoader(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "client: { timeout: 1s }")

	loader, err := NewLoader(path, quietLogger())
	require.NoError(t, err)
	_, err = loader.Load()
	require.NoError(t, err)

	updated := make(chan *Config, 4)
	require.NoError(t, loader.Watch(func(c *Config) { updated <- c }))
	defer loader.Close()

	time.Sleep(50 * time.Millisecond)
	writeConfig(t, dir, "client: { timeout: 9s }")

	select {
	case cfg := <-updated:
		assert.Equal(t, 9*time.Second, cfg.Client.Timeout)
		assert.Equal(t, 9*time.Second, loader.Current().Client.Timeout)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config update")
	}
}

func TestLoader_InvalidReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "client: { timeout: 1s }")

	loader, err := NewLoader(path, quietLogger())
	require.NoError(t, err)
	_, err = loader.Load()
	require.NoError(t, err)

	updated := make(chan *Config, 1)
	require.NoError(t, loader.Watch(func(c *Config) { updated <- c }))
	defer loader.Close()

	writeConfig(t, dir, "client: [ invalid yaml")

	select {
	case <-updated:
		t.Fatal("invalid config must not be published")
	case <-time.After(500 * time.Millisecond):
	}
	assert.Equal(t, time.Second, loader.Current().Client.Timeout)
	assert.NoError(t, loader.Close())
	assert.NoError(t, loader.Close())
}
