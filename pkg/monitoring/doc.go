// Package monitoring composes the telemetry buffer and the performance monitor
// into one process-wide facade.
//
// A Manager supplies request, response and error interceptors that stamp each
// request with a correlation id, time it, and report Request, Dependency, Metric
// and Exception telemetry. The error interceptor never suppresses a failure. The
// package-level Initialize, Instance and Dispose functions manage a single shared
// Manager; Registry values can be used instead when a caller wants to own the
// lifetime explicitly.
package monitoring
