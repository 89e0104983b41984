package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common domain errors
var (
	ErrConfigRequired = errors.New("request config is required")
	ErrConfiguration  = errors.New("invalid configuration")
	ErrTransport      = errors.New("transport failure")
	ErrHTTPStatus     = errors.New("unexpected http status")
	ErrCrypto         = errors.New("crypto failure")

	// ErrCanceled marks rejections caused by the timeout timer or caller cancellation.
	ErrCanceled = errors.New("request aborted")
)

// ConfigurationError is raised before any network I/O when the pipeline is
// misconfigured, e.g. a stage returned no config or a crypto capability is absent.
type ConfigurationError struct {
	Capability string
	Message    string
}

func (e *ConfigurationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s capability not available", e.Capability)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// RequestError is the closed set of rejections a request can end with:
// *TransportError (never reached an HTTP response) or *HTTPStatusError.
type RequestError interface {
	error
	Envelope() *ErrorEnvelope
	requestError()
}

// TransportError is a rejection without a response: timeout, abort or unreachable host.
type TransportError struct {
	*ErrorEnvelope
	Cause   error
	Aborted bool
}

func (e *TransportError) Error() string { return e.Message }

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport || (e.Aborted && target == ErrCanceled)
}

func (e *TransportError) Envelope() *ErrorEnvelope { return e.ErrorEnvelope }

func (*TransportError) requestError() {}

// HTTPStatusError is a rejection for a status outside [200, 400). Response holds the
// response after all response interceptors ran.
type HTTPStatusError struct {
	*ErrorEnvelope
}

func (e *HTTPStatusError) Error() string { return e.Message }

func (e *HTTPStatusError) Is(target error) bool { return target == ErrHTTPStatus }

func (e *HTTPStatusError) Envelope() *ErrorEnvelope { return e.ErrorEnvelope }

func (*HTTPStatusError) requestError() {}

// NewHTTPStatusError builds the rejection for a non-success response.
func NewHTTPStatusError(resp *Response) *HTTPStatusError {
	return &HTTPStatusError{ErrorEnvelope: &ErrorEnvelope{
		Response: resp,
		Message:  fmt.Sprintf("Request failed with status %d", resp.StatusCode),
		Config:   resp.Config,
		Duration: resp.Duration,
	}}
}

// CryptoError reports an envelope failure without exposing provider internals.
type CryptoError struct {
	Direction string // "encrypt" or "decrypt"
	cause     error
}

// NewCryptoError wraps a provider failure for the given direction.
func NewCryptoError(direction string, cause error) *CryptoError {
	return &CryptoError{Direction: direction, cause: cause}
}

func (e *CryptoError) Error() string {
	if e.Direction == "decrypt" {
		return "failed to decrypt response"
	}
	return "failed to encrypt request"
}

func (e *CryptoError) Unwrap() error { return e.cause }

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// AsRequestError extracts the rejection variant from err.
func AsRequestError(err error) (RequestError, bool) {
	var re RequestError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsCancel reports whether err originates from a timeout or an abort, either by the
// abort marker or by an "abort" substring in the message.
func IsCancel(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "abort")
}
