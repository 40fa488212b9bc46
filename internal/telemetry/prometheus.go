package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongrid_runs_total",
		Help: "Total finished runs by final status",
	}, []string{"status"})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "actiongrid_runs_active",
		Help: "Runs currently registered as active",
	})

	nodeTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongrid_node_transitions_total",
		Help: "Node state transitions by target status",
	}, []string{"status"})

	correctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "actiongrid_corrections_total",
		Help: "Correction decisions by action and whether the abort fallback was used",
	}, []string{"action", "fallback"})

	dispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "actiongrid_dispatch_latency_seconds",
		Help:    "Capability call latency per attempt",
		Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 30, 120},
	}, []string{"capability"})
)

// RunRegistered increments the active run gauge.
func RunRegistered() { runsActive.Inc() }

// RunUnregistered decrements the active run gauge and counts the final status.
func RunUnregistered(status string) {
	runsActive.Dec()
	runsTotal.WithLabelValues(status).Inc()
}

// NodeTransition counts a node entering status.
func NodeTransition(status string) {
	nodeTransitions.WithLabelValues(status).Inc()
}

// Correction counts a correction decision.
func Correction(action string, fallback bool) {
	correctionsTotal.WithLabelValues(action, strconv.FormatBool(fallback)).Inc()
}

// Dispatch observes the latency of one capability call.
func Dispatch(capability string, d time.Duration) {
	dispatchLatency.WithLabelValues(capability).Observe(d.Seconds())
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
