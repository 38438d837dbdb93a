// Package observe provides observability primitives for the reactive cache.
//
// It wires OpenTelemetry tracing and metrics plus a JSON structured logger.
// Components take a Logger and a Metrics; both default to no-ops so the
// cache works without any telemetry configured. Middleware wraps a fetcher
// with a span, fetch metrics and a log line per attempt.
package observe
