// Package telemetry holds the engine's tracing and metrics instruments.
//
// Spans and OpenTelemetry instruments go through the global otel providers,
// which are no-ops until the application installs an SDK provider (see
// SetupStdoutTracing). Process level counters are Prometheus collectors
// registered on the default registry and served by Handler.
package telemetry
