package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hostplane/hostplane/pkg/engine"
)

// Metrics collects Prometheus metrics for runs and tasks. It implements
// engine.RunObserver so it can be plugged straight into the executor. A
// disabled Metrics is a safe no-op.
type Metrics struct {
	config MetricsConfig

	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates the metrics collector.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	registry := prometheus.NewRegistry()
	m := &Metrics{
		config:   cfg,
		registry: registry,
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of tasks executed",
			},
			[]string{"module", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"module"},
		),
	}

	registry.MustRegister(m.runsCompleted, m.runDuration, m.tasksExecuted, m.taskDuration)
	return m
}

// TaskFinished implements engine.RunObserver.
func (m *Metrics) TaskFinished(report engine.TaskReport) {
	if m.registry == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(string(report.Module), string(report.Status)).Inc()
	m.taskDuration.WithLabelValues(string(report.Module)).Observe(report.Duration.Seconds())
}

// RunFinished implements engine.RunObserver.
func (m *Metrics) RunFinished(report engine.RunReport) {
	if m.registry == nil {
		return
	}
	status := string(report.Status)
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(report.CompletedAt.Sub(report.StartedAt).Seconds())
}

// Handler returns an HTTP handler exposing the metrics, or an error when
// metrics are disabled.
func (m *Metrics) Handler() (http.Handler, error) {
	if m.registry == nil {
		return nil, fmt.Errorf("metrics are disabled")
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}), nil
}
