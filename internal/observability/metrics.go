package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the research engine's prometheus collectors on a private
// registry.
type Metrics struct {
	Registry *prometheus.Registry

	runs             *prometheus.CounterVec
	steps            *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	modelInvocations *prometheus.CounterVec
	loopExhausted    prometheus.Counter
	stepDuration     prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "runs_total",
			Help:      "Research runs by outcome.",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "steps_total",
			Help:      "Research steps by final status.",
		}, []string{"status"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool", "status"}),
		modelInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "model_invocations_total",
			Help:      "Chat model calls by stage.",
		}, []string{"stage"}),
		loopExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepresearch",
			Name:      "tool_loop_exhausted_total",
			Help:      "Tool-call loops that hit the iteration cap.",
		}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "deepresearch",
			Name:      "step_duration_seconds",
			Help:      "Wall time of research steps.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
	}
	m.Registry.MustRegister(m.runs, m.steps, m.toolCalls, m.modelInvocations, m.loopExhausted, m.stepDuration)
	return m
}

// The recording methods accept a nil receiver so callers can leave metrics off.

func (m *Metrics) RunFinished(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) StepFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(status).Inc()
	m.stepDuration.Observe(d.Seconds())
}

func (m *Metrics) ToolCalled(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) ModelInvoked(stage string) {
	if m == nil {
		return
	}
	m.modelInvocations.WithLabelValues(stage).Inc()
}

func (m *Metrics) LoopExhausted() {
	if m == nil {
		return
	}
	m.loopExhausted.Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
