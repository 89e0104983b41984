// Package telemetry buffers structured client telemetry and ships it in batches.
//
// A Buffer accumulates Event, Metric, Exception, Request, Dependency and Trace
// records behind a fixed context snapshot and flushes them to a Sender when the
// buffer reaches its size limit or the flush interval elapses. The package also
// bootstraps the OpenTelemetry tracer provider, records per-request OTel metrics
// and exposes Prometheus counters describing buffer behaviour.
package telemetry
