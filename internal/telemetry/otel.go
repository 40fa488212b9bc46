package telemetry

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("actiongrid")
	meter  = otel.Meter("actiongrid")
)

// Tracer returns the engine tracer.
func Tracer() trace.Tracer { return tracer }

// Instruments are the OpenTelemetry metric instruments of the engine.
type Instruments struct {
	once          sync.Once
	nodeLatency   metric.Float64Histogram
	nodeSuccesses metric.Int64Counter
	nodeFailures  metric.Int64Counter
	activeNodes   metric.Int64UpDownCounter
	runLatency    metric.Float64Histogram
}

var instruments Instruments

// Meters returns the process-wide instruments, creating them on first use.
// Instruments that fail to initialise are skipped and the failure is logged.
func Meters(ctx context.Context) *Instruments {
	instruments.once.Do(func() {
		var initErrors []string
		var err error

		instruments.nodeLatency, err = meter.Float64Histogram("actiongrid_node_duration_seconds",
			metric.WithDescription("Time spent executing each node attempt"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}
		instruments.nodeSuccesses, err = meter.Int64Counter("actiongrid_node_success_total",
			metric.WithDescription("Number of successful node attempts"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_successes: "+err.Error())
		}
		instruments.nodeFailures, err = meter.Int64Counter("actiongrid_node_failure_total",
			metric.WithDescription("Number of failed node attempts"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failures: "+err.Error())
		}
		instruments.activeNodes, err = meter.Int64UpDownCounter("actiongrid_active_nodes",
			metric.WithDescription("Number of node attempts currently executing"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}
		instruments.runLatency, err = meter.Float64Histogram("actiongrid_run_duration_seconds",
			metric.WithDescription("Total run execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			ctxlog.FromContext(ctx).Error("Failed to initialise some metrics (observability degraded).",
				"failed_count", len(initErrors),
				"errors", strings.Join(initErrors, "; "),
			)
		}
	})
	return &instruments
}

// NodeStarted records the start of a node attempt.
func (i *Instruments) NodeStarted(ctx context.Context) {
	if i.activeNodes != nil {
		i.activeNodes.Add(ctx, 1)
	}
}

// NodeFinished records the end of a node attempt.
func (i *Instruments) NodeFinished(ctx context.Context, capability string, d time.Duration, ok bool) {
	attrs := metric.WithAttributes(attribute.String("capability", capability))
	if i.activeNodes != nil {
		i.activeNodes.Add(ctx, -1)
	}
	if i.nodeLatency != nil {
		i.nodeLatency.Record(ctx, d.Seconds(), attrs)
	}
	switch {
	case ok && i.nodeSuccesses != nil:
		i.nodeSuccesses.Add(ctx, 1, attrs)
	case !ok && i.nodeFailures != nil:
		i.nodeFailures.Add(ctx, 1, attrs)
	}
}

// RunFinished records the duration of a finished run.
func (i *Instruments) RunFinished(ctx context.Context, status string, d time.Duration) {
	if i.runLatency != nil {
		i.runLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	}
}

// SetupStdoutTracing installs a global tracer provider exporting spans as
// JSON to w. The returned function flushes and shuts the provider down.
func SetupStdoutTracing(w io.Writer) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
