package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ghostsweep/ghostsweep/pkg/engine"
)

// Metrics collects per-run counters on a private registry and writes
// them out once at the end of the run.
type Metrics struct {
	config MetricsConfig

	runsTotal      *prometheus.CounterVec
	stepsTotal     *prometheus.CounterVec
	runDuration    prometheus.Histogram
	rebootRequired prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector. A disabled config returns a
// no-op instance whose methods are safe to call.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "ghostsweep"
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Cleanup runs by final status",
			},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Executed tasks by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall-clock duration of cleanup runs",
				Buckets:   []float64{1, 5, 15, 60, 300, 900},
			},
		),
		rebootRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reboot_required",
				Help:      "1 when the last run left a reboot pending",
			},
		),
	}
	registry.MustRegister(m.runsTotal, m.stepsTotal, m.runDuration, m.rebootRequired)
	return m
}

// ObserveRun records the finished run.
func (m *Metrics) ObserveRun(run *engine.WorkflowRun) {
	if m.registry == nil {
		return
	}
	m.runsTotal.WithLabelValues(string(run.Status)).Inc()
	m.runDuration.Observe(run.CompletedAt.Sub(run.StartedAt).Seconds())
	for _, res := range run.Results {
		m.stepsTotal.WithLabelValues(res.Step, string(res.Outcome)).Inc()
	}
	if run.RebootPending() {
		m.rebootRequired.Set(1)
	}
}

// WriteTextfile exports the collected metrics for the node exporter's
// textfile collector.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
