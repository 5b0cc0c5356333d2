// Package metrics exposes the daemon's Prometheus counters — turns
// processed, tool calls, and approval latency — on an internal /metrics
// endpoint. No teacher analogue carries this; wired from
// github.com/prometheus/client_golang the way the ecosystem idiomatically
// instruments a Go service (see DESIGN.md).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentd-run/agentd/internal/types"
)

// Metrics owns a private registry so instantiating more than one instance
// (e.g. in tests) never collides with the global default registerer.
type Metrics struct {
	registry        *prometheus.Registry
	turnsProcessed  *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	approvalLatency prometheus.Histogram
}

// New registers and returns a fresh set of daemon metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		turnsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "turns_processed_total",
			Help:      "Number of ingress events the Turn Controller has finished processing, by trust level.",
		}, []string{"trust"}),
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "tool_calls_total",
			Help:      "Number of tool executions, by tool name and outcome (ok|error).",
		}, []string{"tool", "outcome"}),
		approvalLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentd",
			Name:      "approval_latency_seconds",
			Help:      "Time between an approval request and its resolution.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// Handler returns the HTTP handler serving this instance's metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTurn increments the turns-processed counter for trust.
func (m *Metrics) ObserveTurn(trust types.TrustLevel) {
	m.turnsProcessed.WithLabelValues(string(trust)).Inc()
}

// ObserveToolCall increments the tool-calls counter for name, tagging the
// outcome as "error" when err is non-nil, "ok" otherwise.
func (m *Metrics) ObserveToolCall(name string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolCalls.WithLabelValues(name, outcome).Inc()
}

// ObserveApprovalLatency records how long an approval round-trip took.
func (m *Metrics) ObserveApprovalLatency(d time.Duration) {
	m.approvalLatency.Observe(d.Seconds())
}
