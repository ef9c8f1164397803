// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors the service updates at runtime.
type Metrics struct {
	registry *prometheus.Registry

	TurnsStarted   prometheus.Counter
	TurnsFinished  *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	ToolExecutions *prometheus.CounterVec
	UnknownTools   prometheus.Counter
}

// New creates and registers the service collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		TurnsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandchat_turns_started_total",
			Help: "Turns accepted for processing.",
		}),
		TurnsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandchat_turns_finished_total",
			Help: "Turns finished, by termination reason.",
		}, []string{"reason"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandchat_turn_duration_seconds",
			Help:    "Wall clock duration of a full turn.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sandchat_tool_executions_total",
			Help: "Tool executions, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		UnknownTools: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sandchat_unknown_active_tools_total",
			Help: "Active tool names from clients that matched no registered tool.",
		}),
	}

	registry.MustRegister(
		m.TurnsStarted,
		m.TurnsFinished,
		m.TurnDuration,
		m.ToolExecutions,
		m.UnknownTools,
	)

	return m
}

// ObserveToolExecution records one tool execution outcome.
func (m *Metrics) ObserveToolExecution(toolName string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ToolExecutions.WithLabelValues(toolName, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
