// Package transport executes finalized request configs over one of two HTTP
// strategies and turns the outcome into a domain.Response or a domain.RequestError.
//
// The strategy is picked once when the client is built: the modern transport is an
// OpenTelemetry-instrumented net/http client that negotiates HTTP/2, the legacy
// transport is a plain HTTP/1.1 client without keep-alives for environments where
// the modern stack is unavailable. Both honour the same timeout-and-cancel contract
// enforced by Adapter.
package transport
