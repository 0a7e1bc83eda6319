package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataorch_nodes_total",
			Help: "Total number of data nodes by state",
		},
		[]string{"state"},
	)

	OrphanNodesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataorch_orphan_nodes_total",
			Help: "Total number of orphan nodes (referenced but undefined)",
		},
	)

	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataorch_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	TasksStartedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataorch_tasks_started_total",
			Help: "Total number of refresh tasks started",
		},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataorch_tasks_completed_total",
			Help: "Total number of refresh tasks completed, by outcome",
		},
		[]string{"outcome"}, // done, errored, zombie
	)

	TaskDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataorch_task_duration_seconds",
			Help:    "Wall-clock duration of refresh tasks in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tick / scheduler metrics
	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataorch_tick_duration_seconds",
			Help:    "Time taken for a single scheduler tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataorch_ticks_total",
			Help: "Total number of scheduler ticks completed",
		},
	)

	ZombiesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataorch_zombies_swept_total",
			Help: "Total number of zombie tasks detected and reset",
		},
	)

	CascadesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataorch_cascades_total",
			Help: "Total number of downstream invalidation cascades triggered",
		},
	)

	// Store metrics
	StoreBusyRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataorch_store_busy_retries_total",
			Help: "Total number of transaction retries due to store contention",
		},
	)

	StoreTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataorch_store_tx_duration_seconds",
			Help:    "Duration of state store transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(OrphanNodesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(TasksStartedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(TaskDuration)
	prometheus.MustRegister(TickDuration)
	prometheus.MustRegister(TicksTotal)
	prometheus.MustRegister(ZombiesSweptTotal)
	prometheus.MustRegister(CascadesTotal)
	prometheus.MustRegister(StoreBusyRetriesTotal)
	prometheus.MustRegister(StoreTxDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
