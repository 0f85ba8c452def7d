// Package metrics exposes engine steps as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/nidhogg/nuka-council/internal/orchestrator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is an orchestrator.Recorder backed by its own registry.
type Metrics struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	runs         *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	attempts     *prometheus.HistogramVec
}

// New registers the council metrics plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "council_steps_total",
			Help: "Agent invocations by workflow, agent and resulting action.",
		}, []string{"workflow", "agent", "action"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "council_runs_total",
			Help: "Finished runs by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "council_step_duration_seconds",
			Help:    "Agent invocation duration in seconds.",
			Buckets: []float64{.001, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"workflow", "agent"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "council_run_attempts",
			Help:    "Revision attempts consumed by finished runs.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}, []string{"workflow"}),
	}
	m.registry.MustRegister(
		m.steps, m.runs, m.stepDuration, m.attempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Record implements orchestrator.Recorder.
func (m *Metrics) Record(_ context.Context, step orchestrator.Step) error {
	wf := step.State.Workflow
	action := ""
	if d := step.Decision(); d != nil {
		action = string(d.Action)
	}
	m.steps.WithLabelValues(wf, step.Agent, action).Inc()
	m.stepDuration.WithLabelValues(wf, step.Agent).Observe(step.Duration.Seconds())
	if step.Final() {
		m.runs.WithLabelValues(wf, string(step.State.Outcome)).Inc()
		m.attempts.WithLabelValues(wf).Observe(float64(step.State.Attempts))
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
