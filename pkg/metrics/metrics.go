package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tusk_workers_total",
			Help: "Total number of registered workers by status",
		},
		[]string{"status"},
	)

	WorkerSlotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tusk_worker_slots",
			Help: "Worker job slots across healthy workers by state (used, free)",
		},
		[]string{"state"},
	)

	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tusk_jobs_total",
			Help: "Total number of jobs in the job log by status",
		},
		[]string{"status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusk_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tusk_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	AssignmentLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tusk_assignment_latency_seconds",
			Help:    "Time from a job becoming pending to its assignment in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SchedulingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tusk_scheduling_cycle_duration_seconds",
			Help:    "Duration of one assignment pass in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusk_jobs_submitted_total",
			Help: "Total number of jobs accepted",
		},
	)

	JobsAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusk_jobs_assigned_total",
			Help: "Total number of job assignments",
		},
	)

	JobsRescheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusk_jobs_rescheduled_total",
			Help: "Total number of jobs returned to pending after losing their worker",
		},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusk_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	// Health monitor metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tusk_reconciliation_duration_seconds",
			Help:    "Duration of one health monitor sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkersMarkedOffline = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusk_workers_marked_offline_total",
			Help: "Total number of workers marked offline after missing heartbeats",
		},
	)

	// Worker runtime metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusk_worker_executions_total",
			Help: "Total number of job executions on this worker by outcome",
		},
		[]string{"outcome"},
	)

	WorkerExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tusk_worker_execution_duration_seconds",
			Help:    "Engine execution time of a job on this worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tusk_worker_reconnects_total",
			Help: "Total number of scheduler sessions re-established by this worker",
		},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tusk_events_dropped_total",
			Help: "Total number of lifecycle events dropped for slow subscribers by event type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(WorkerSlotsTotal)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(AssignmentLatency)
	prometheus.MustRegister(SchedulingDuration)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsAssigned)
	prometheus.MustRegister(JobsRescheduled)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(WorkersMarkedOffline)
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerExecutionDuration)
	prometheus.MustRegister(WorkerReconnects)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
