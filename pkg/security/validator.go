package security

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/securehttp/pkg/domain"
	"github.com/polisai/securehttp/pkg/telemetry"
)

// ErrInsecureDevice matches every ViolationError.
var ErrInsecureDevice = errors.New("security violation detected: device is not secure for sensitive operations")

const (
	ReasonRooted   = "Device is rooted/jailbroken"
	ReasonProxy    = "Proxy detected"
	ReasonTampered = "Certificate tampering detected"
)

// Report is the outcome of one attestation.
type Report struct {
	Secure              bool `json:"secure"`
	Rooted              bool `json:"isRooted"`
	ProxyEnabled        bool `json:"hasProxyEnabled"`
	CertificateTampered bool `json:"isCertificateTampered"`
}

// Reasons lists the failed checks in a fixed order.
func (r Report) Reasons() []string {
	var reasons []string
	if r.Rooted {
		reasons = append(reasons, ReasonRooted)
	}
	if r.ProxyEnabled {
		reasons = append(reasons, ReasonProxy)
	}
	if r.CertificateTampered {
		reasons = append(reasons, ReasonTampered)
	}
	return reasons
}

// ViolationError is returned when a report is not secure.
type ViolationError struct {
	Report Report
}

func (e *ViolationError) Error() string {
	return "Security check failed: " + strings.Join(e.Report.Reasons(), ", ")
}

func (e *ViolationError) Is(target error) bool { return target == ErrInsecureDevice }

// Validator runs a Checker.
type Validator struct {
	checker Checker
	logger  *slog.Logger
}

// NewValidator wraps checker. A nil checker assumes secure.
func NewValidator(checker Checker, logger *slog.Logger) *Validator {
	if checker == nil {
		checker = AssumeSecure{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{checker: checker, logger: logger.With("component", "security")}
}

// Check runs every attestation.
func (v *Validator) Check(ctx context.Context) Report {
	r := Report{
		Rooted:              v.checker.IsRooted(ctx),
		ProxyEnabled:        v.checker.HasProxyEnabled(ctx),
		CertificateTampered: v.checker.IsCertificateTampered(ctx),
	}
	r.Secure = !r.Rooted && !r.ProxyEnabled && !r.CertificateTampered
	return r
}

// ValidateOrError returns a *ViolationError when the host is not secure.
func (v *Validator) ValidateOrError(ctx context.Context) error {
	report := v.Check(ctx)
	if report.Secure {
		return nil
	}
	v.logger.LogAttrs(ctx, slog.LevelWarn, "security check failed",
		slog.Any("reasons", report.Reasons()),
	)
	return &ViolationError{Report: report}
}

// Guard returns a request interceptor that rejects every request from an insecure
// host before it reaches the network. The outcome is attached to the active span.
func Guard(v *Validator) domain.RequestInterceptor {
	return domain.RequestInterceptorFunc(func(ctx context.Context, cfg *domain.RequestConfig) (*domain.RequestConfig, error) {
		err := v.ValidateOrError(ctx)

		var violation *ViolationError
		if errors.As(err, &violation) {
			telemetry.RecordSecurityEvent(trace.SpanFromContext(ctx), true, violation.Report.Reasons())
			return nil, err
		}
		telemetry.RecordSecurityEvent(trace.SpanFromContext(ctx), false, nil)
		return cfg, nil
	})
}
