package monitoring

import (
	"time"

	"github.com/polisai/securehttp/pkg/telemetry"
)

// Config configures a Manager.
type Config struct {
	InstrumentationKey        string        `yaml:"instrumentation_key"`
	Endpoint                  string        `yaml:"endpoint"`
	AppVersion                string        `yaml:"app_version"`
	UserID                    string        `yaml:"user_id"`
	Enabled                   bool          `yaml:"enabled"`
	MaxBufferSize             int           `yaml:"max_buffer_size"`
	FlushInterval             time.Duration `yaml:"flush_interval"`
	CaptureScreenshotsOnError bool          `yaml:"capture_screenshots_on_error"`
	// SpanTTL drops performance spans of requests that never completed. Zero disables it.
	SpanTTL time.Duration `yaml:"span_ttl"`
}

// DefaultSpanTTL bounds how long an unfinished operation is kept.
const DefaultSpanTTL = 5 * time.Minute

// DefaultConfig returns the defaults: enabled, 100 events, 30 second interval,
// screenshots on error and a five minute span TTL.
func DefaultConfig() Config {
	return Config{
		AppVersion:                telemetry.DefaultAppVersion,
		UserID:                    telemetry.DefaultUserID,
		Enabled:                   true,
		MaxBufferSize:             telemetry.DefaultMaxBufferSize,
		FlushInterval:             telemetry.DefaultFlushInterval,
		CaptureScreenshotsOnError: true,
		SpanTTL:                   DefaultSpanTTL,
	}
}

func (c Config) telemetryConfig() telemetry.Config {
	return telemetry.Config{
		InstrumentationKey: c.InstrumentationKey,
		Endpoint:           c.Endpoint,
		AppVersion:         c.AppVersion,
		UserID:             c.UserID,
		Enabled:            c.Enabled,
		MaxBufferSize:      c.MaxBufferSize,
		FlushInterval:      c.FlushInterval,
	}
}
