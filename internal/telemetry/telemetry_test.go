package telemetry

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollectors(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues("COMPLETED"))
	RunRegistered()
	RunUnregistered("COMPLETED")
	assert.Equal(t, before+1, testutil.ToFloat64(runsTotal.WithLabelValues("COMPLETED")))

	beforeCorr := testutil.ToFloat64(correctionsTotal.WithLabelValues("abort", "true"))
	Correction("abort", true)
	assert.Equal(t, beforeCorr+1, testutil.ToFloat64(correctionsTotal.WithLabelValues("abort", "true")))

	NodeTransition("READY")
	Dispatch("print", 10*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "actiongrid_node_transitions_total")
	assert.Contains(t, rec.Body.String(), "actiongrid_dispatch_latency_seconds")
}

func TestInstruments(t *testing.T) {
	ctx := context.Background()
	m := Meters(ctx)
	require.Same(t, m, Meters(ctx))

	assert.NotPanics(t, func() {
		m.NodeStarted(ctx)
		m.NodeFinished(ctx, "print", time.Millisecond, true)
		m.NodeFinished(ctx, "print", time.Millisecond, false)
		m.RunFinished(ctx, "COMPLETED", time.Second)
	})
}

func TestSetupStdoutTracing(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupStdoutTracing(&buf)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "test.span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "test.span")
}
