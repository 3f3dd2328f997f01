// Package monitor exposes Prometheus metrics for chat turns, tool calls and
// SQL executions.
package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sqlchat"

var (
	registry = prometheus.NewRegistry()

	turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Chat turns by outcome.",
	}, []string{"outcome"})

	turnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall time of a chat turn including model and tool calls.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})

	toolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool and outcome.",
	}, []string{"tool", "outcome"})

	sqlTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sql_executions_total",
		Help:      "SQL statements executed by status.",
	}, []string{"status"})

	snippetsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snippets_total",
		Help:      "Code snippets by lifecycle event.",
	}, []string{"event"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		turnsTotal,
		turnDuration,
		toolCallsTotal,
		sqlTotal,
		snippetsTotal,
	)
}

// Registry returns the registry every metric is registered on
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveTurn records one finished turn
func ObserveTurn(outcome string, d time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(d.Seconds())
}

// ObserveToolCall records one tool invocation
func ObserveToolCall(tool, outcome string) {
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// ObserveSQL records one statement execution
func ObserveSQL(status string) {
	sqlTotal.WithLabelValues(status).Inc()
}

// ObserveSnippet records a snippet lifecycle event (stored, executed, failed)
func ObserveSnippet(event string) {
	snippetsTotal.WithLabelValues(event).Inc()
}
