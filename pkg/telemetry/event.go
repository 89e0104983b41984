package telemetry

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/securehttp/pkg/domain"
)

// Kind identifies the payload carried by an Event.
type Kind string

const (
	KindEvent      Kind = "Event"
	KindMetric     Kind = "Metric"
	KindException  Kind = "Exception"
	KindRequest    Kind = "Request"
	KindDependency Kind = "Dependency"
	KindTrace      Kind = "Trace"
)

// Severity levels accepted by TrackTrace.
const (
	SeverityVerbose     = "Verbose"
	SeverityInformation = "Information"
	SeverityWarning     = "Warning"
	SeverityError       = "Error"
	SeverityCritical    = "Critical"
)

// Event is one buffered telemetry record as it appears on the wire.
type Event struct {
	Type      Kind      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Context   Context   `json:"context"`
	Data      any       `json:"data"`
}

// Context is the snapshot attached to every event a Buffer produces. It is fixed
// when the buffer is created.
type Context struct {
	Application ApplicationContext `json:"application"`
	Device      DeviceContext      `json:"device"`
	Session     SessionContext     `json:"session"`
	User        UserContext        `json:"user"`
}

type ApplicationContext struct {
	Version string `json:"version"`
}

type DeviceContext struct {
	Type      string `json:"type"`
	OSVersion string `json:"osVersion"`
}

type SessionContext struct {
	ID string `json:"id"`
}

type UserContext struct {
	ID string `json:"id"`
}

// NewContext builds the snapshot for a new buffer session.
func NewContext(appVersion, userID string) Context {
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	if userID == "" {
		userID = DefaultUserID
	}
	return Context{
		Application: ApplicationContext{Version: appVersion},
		Device: DeviceContext{
			Type:      runtime.GOOS,
			OSVersion: runtime.GOARCH + " " + runtime.Version(),
		},
		Session: SessionContext{ID: uuid.NewString()},
		User:    UserContext{ID: userID},
	}
}

// EventData is the payload of a KindEvent record.
type EventData struct {
	Name         string             `json:"name"`
	Properties   map[string]any     `json:"properties"`
	Measurements map[string]float64 `json:"measurements"`
}

// MetricData is the payload of a KindMetric record.
type MetricData struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Properties map[string]any `json:"properties"`
}

// ExceptionData is the payload of a KindException record.
type ExceptionData struct {
	Message    string         `json:"message"`
	Stack      []string       `json:"stack,omitempty"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// RequestData is the payload of a KindRequest record. Duration is in milliseconds.
type RequestData struct {
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	Duration     int64          `json:"duration"`
	ResponseCode int            `json:"responseCode"`
	Success      bool           `json:"success"`
	Properties   map[string]any `json:"properties"`
}

// DependencyData is the payload of a KindDependency record. Duration is in milliseconds.
type DependencyData struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Target     string         `json:"target"`
	Duration   int64          `json:"duration"`
	Success    bool           `json:"success"`
	ResultCode int            `json:"resultCode"`
	Properties map[string]any `json:"properties"`
}

// TraceData is the payload of a KindTrace record.
type TraceData struct {
	Message    string         `json:"message"`
	Severity   string         `json:"severity"`
	Properties map[string]any `json:"properties"`
}

// ErrorType names the error for telemetry. Request failures report their variant;
// other errors report their dynamic type.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}
	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) {
		return "TransportError"
	}
	var statusErr *domain.HTTPStatusError
	if errors.As(err, &statusErr) {
		return "HTTPStatusError"
	}
	var cryptoErr *domain.CryptoError
	if errors.As(err, &cryptoErr) {
		return "CryptoError"
	}
	var configErr *domain.ConfigurationError
	if errors.As(err, &configErr) {
		return "ConfigurationError"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// errorChain lists the messages of the wrapped errors, outermost first. It stops at a
// crypto failure so provider internals never reach the wire.
func errorChain(err error) []string {
	var chain []string
	for current := err; current != nil; current = errors.Unwrap(current) {
		if current != err {
			chain = append(chain, current.Error())
		}
		if _, ok := current.(*domain.CryptoError); ok {
			break
		}
	}
	return chain
}

func properties(props map[string]any) map[string]any {
	if props == nil {
		return map[string]any{}
	}
	return props
}

func milliseconds(d time.Duration) int64 {
	return d.Milliseconds()
}
