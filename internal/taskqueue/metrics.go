package taskqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"stevedore/pkg/manager"
)

// Metrics holds the queue's Prometheus collectors.
type Metrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	queued    *prometheus.GaugeVec
	running   *prometheus.GaugeVec
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stevedore_tasks_submitted_total",
				Help: "Total number of tasks submitted",
			},
			[]string{"manager", "kind"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stevedore_tasks_finished_total",
				Help: "Total number of tasks that reached a terminal status",
			},
			[]string{"manager", "kind", "status"},
		),
		queued: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stevedore_tasks_queued",
				Help: "Current number of tasks waiting for their manager lane",
			},
			[]string{"manager"},
		),
		running: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "stevedore_tasks_running",
				Help: "Current number of running tasks",
			},
			[]string{"manager"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stevedore_task_duration_seconds",
				Help:    "Task run time from start to terminal status",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"manager", "kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.submitted, m.finished, m.queued, m.running, m.duration)
	}
	return m
}

func (m *Metrics) recordSubmitted(sub Submission) {
	m.submitted.WithLabelValues(string(sub.Manager), string(sub.Kind)).Inc()
	m.queued.WithLabelValues(string(sub.Manager)).Inc()
}

func (m *Metrics) recordStarted(id manager.ID) {
	m.queued.WithLabelValues(string(id)).Dec()
	m.running.WithLabelValues(string(id)).Inc()
}

func (m *Metrics) recordFinished(snap *Snapshot, from Status) {
	switch from {
	case StatusQueued:
		m.queued.WithLabelValues(string(snap.Manager)).Dec()
	case StatusRunning:
		m.running.WithLabelValues(string(snap.Manager)).Dec()
		if snap.StartedAt != nil && snap.FinishedAt != nil {
			m.duration.WithLabelValues(string(snap.Manager), string(snap.Kind)).
				Observe(snap.FinishedAt.Sub(*snap.StartedAt).Seconds())
		}
	}
	m.finished.WithLabelValues(string(snap.Manager), string(snap.Kind), string(snap.Status)).Inc()
}
