/*
Package metrics provides Prometheus metrics and health endpoints for Tusk.

All metrics are registered with the default registry at init and exposed by
Handler on the scheduler's HTTP side-port at /metrics.

# Metrics

	tusk_jobs_total{status}                    gauge, from the job log
	tusk_workers_total{status}                 gauge, from the registry
	tusk_worker_slots{state}                   gauge, used/free slots on healthy workers
	tusk_jobs_submitted_total                  counter
	tusk_jobs_assigned_total                   counter
	tusk_jobs_rescheduled_total                counter
	tusk_jobs_finished_total{status}           counter
	tusk_workers_marked_offline_total          counter
	tusk_assignment_latency_seconds            histogram, pending to running
	tusk_scheduling_cycle_duration_seconds     histogram
	tusk_reconciliation_duration_seconds       histogram
	tusk_api_requests_total{method,status}     counter
	tusk_api_request_duration_seconds{method}  histogram

Gauges are refreshed by Collector every 15 seconds; counters and histograms are
updated inline by the component that owns the event. Timer is a small helper for
observing an operation's duration:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingDuration)

# Health

UpdateComponent records per-component health. /health reports unhealthy when any
component is unhealthy; /ready reports ready once the storage, scheduler and api
components are registered and healthy.
*/
package metrics
