package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the lifecycle coordinator.
type Metrics struct {
	registry *prometheus.Registry

	TasksTotal     *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	ImagesActive   prometheus.Gauge
	ImagesAdded    *prometheus.CounterVec
	ImagesDeleted  prometheus.Counter
	DeleteWait     prometheus.Histogram
	DeleteTimeouts prometheus.Counter
	WorkersBusy    prometheus.Gauge
	CommandsTotal  *prometheus.CounterVec
	MessagesTotal  prometheus.Counter
}

// New creates a metrics collector on a private registry so multiple instances
// (tests, embedded use) never collide on the global default registerer.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TasksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imglc_tasks_total",
				Help: "Transformation tasks by kind and terminal status",
			},
			[]string{"kind", "status"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imglc_task_duration_seconds",
				Help:    "Wall time of a transformation including the wait for a free worker",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"kind"},
		),
		ImagesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "imglc_images_active",
				Help: "Records currently held by the image registry",
			},
		),
		ImagesAdded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imglc_images_added_total",
				Help: "Records registered, by origin",
			},
			[]string{"origin"},
		),
		ImagesDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "imglc_images_deleted_total",
				Help: "Records removed after the delete wait completed",
			},
		),
		DeleteWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "imglc_delete_wait_seconds",
				Help:    "Time a delete spent waiting for in-flight tasks",
				Buckets: []float64{.001, .01, .1, .5, 1, 5, 10, 30, 60, 120},
			},
		),
		DeleteTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "imglc_delete_timeouts_total",
				Help: "Deletes abandoned because tasks did not finish in time",
			},
		),
		WorkersBusy: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "imglc_workers_busy",
				Help: "Pool workers currently running a transformation",
			},
		),
		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imglc_commands_total",
				Help: "Commands executed, by name and outcome",
			},
			[]string{"command", "outcome"},
		),
		MessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "imglc_messages_total",
				Help: "Lines rendered by the message bus",
			},
		),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.ImagesActive,
		m.ImagesAdded,
		m.ImagesDeleted,
		m.DeleteWait,
		m.DeleteTimeouts,
		m.WorkersBusy,
		m.CommandsTotal,
		m.MessagesTotal,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests and gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the collectors in text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveTask records a finished task.
func (m *Metrics) ObserveTask(kind, status string, elapsed time.Duration) {
	m.TasksTotal.WithLabelValues(kind, status).Inc()
	m.TaskDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveCommand records the outcome of one command.
func (m *Metrics) ObserveCommand(command string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CommandsTotal.WithLabelValues(command, outcome).Inc()
}
