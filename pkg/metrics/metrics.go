package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow metrics
	WorkflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxion_workflows_total",
			Help: "Total number of workflows submitted, by terminal status",
		},
		[]string{"status"},
	)

	WorkflowDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxion_workflow_duration_seconds",
			Help:    "Time from workflow submission to terminal status in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	WorkflowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluxion_workflows_active",
			Help: "Number of submitted workflows not yet in a terminal state",
		},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxion_scheduling_latency_seconds",
			Help:    "Time taken to promote a completed task's successors in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksPromoted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxion_tasks_promoted_total",
			Help: "Total number of tasks transitioned from pending to ready",
		},
	)

	TasksRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxion_tasks_recovered_total",
			Help: "Total number of tasks re-enqueued after an expired claim",
		},
	)

	// Worker metrics
	TasksClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxion_tasks_claimed_total",
			Help: "Total number of tasks claimed by a worker",
		},
	)

	TasksCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxion_tasks_completed_total",
			Help: "Total number of tasks driven to a terminal state, by status",
		},
		[]string{"status"},
	)

	TaskExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxion_task_execution_duration_seconds",
			Help:    "Time from claim to terminal state in seconds, by container",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"container"},
	)

	ControlRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxion_control_requests_total",
			Help: "Total number of service-control requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Submission API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxion_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluxion_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Lease recovery metrics
	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fluxion_reconciliation_cycles_total",
			Help: "Total number of lease-recovery cycles run",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxion_reconciliation_duration_seconds",
			Help:    "Time taken by one lease-recovery cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(WorkflowsTotal)
	prometheus.MustRegister(WorkflowDuration)
	prometheus.MustRegister(WorkflowsActive)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(TasksPromoted)
	prometheus.MustRegister(TasksRecovered)
	prometheus.MustRegister(TasksClaimed)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TaskExecutionDuration)
	prometheus.MustRegister(ControlRequestsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
