// Package observability aggregates per-category, per-tenant lifecycle
// metrics for Governor. The Collector implements lifecycle hooks to
// count admissions, rejections, successes, failures, retries, and
// dead-letter pushes, and records execution latency into fixed-bound
// histogram buckets. Snapshot exports the aggregate in a pull-based
// form consumable by any metrics backend; the admin API serves it as
// JSON.
//
// For per-execution tracing and OpenTelemetry metrics, see the
// middleware package: middleware.Tracing() and middleware.Metrics().
package observability
