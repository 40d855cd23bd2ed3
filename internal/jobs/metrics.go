// Package jobmetrics instruments the audit pipeline that runs through asynq.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kinoteka"

// Metrics groups the collectors shared by the audit publisher and worker.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	facts    *prometheus.CounterVec
}

var (
	processOnce    sync.Once
	processMetrics *Metrics
)

// NewMetrics registers collectors on registerer, or once on the global
// Prometheus registerer when registerer is nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer != nil {
		return register(registerer)
	}
	processOnce.Do(func() { processMetrics = register(prometheus.DefaultRegisterer) })
	return processMetrics
}

// Tracker times one task execution.
type Tracker struct {
	m     *Metrics
	task  string
	began time.Time
}

// Track starts timing task. A nil receiver yields a no-op tracker.
func (m *Metrics) Track(task string) *Tracker {
	return &Tracker{m: m, task: task, began: time.Now()}
}

// End records the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.m == nil {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.m.failures.WithLabelValues(t.task).Inc()
	}
	t.m.runs.WithLabelValues(t.task, status).Inc()
	t.m.duration.WithLabelValues(t.task).Observe(time.Since(t.began).Seconds())
	return err
}

// ObserveFact counts one persisted audit fact.
func (m *Metrics) ObserveFact(action, outcome string) {
	if m == nil {
		return
	}
	m.facts.WithLabelValues(action, outcome).Inc()
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Audit task executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failures_total",
			Help:      "Failed audit task executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Audit task execution time.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"job"}),
		facts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_facts_persisted_total",
			Help:      "Audit facts written by the worker, by action and outcome.",
		}, []string{"action", "outcome"}),
	}
	registerer.MustRegister(m.runs, m.failures, m.duration, m.facts)
	return m
}
