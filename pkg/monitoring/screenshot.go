package monitoring

import "context"

// Screenshotter captures the current screen for error reports.
type Screenshotter interface {
	Available() bool
	// Capture returns an encoded image, or "" when nothing could be captured.
	Capture(ctx context.Context) (string, error)
}

// NoScreenshots is the Screenshotter used when none is configured.
type NoScreenshots struct{}

func (NoScreenshots) Available() bool { return false }

func (NoScreenshots) Capture(context.Context) (string, error) { return "", nil }

// ScreenshotFunc adapts a capture function that is always available.
type ScreenshotFunc func(ctx context.Context) (string, error)

func (f ScreenshotFunc) Available() bool { return f != nil }

func (f ScreenshotFunc) Capture(ctx context.Context) (string, error) { return f(ctx) }
