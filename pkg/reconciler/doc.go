/*
Package reconciler provides the health monitor for Tusk workers and running jobs.

The reconciler sweeps on a fixed interval (5 seconds by default):

	┌────────────────────────────────────────────────────────────┐
	│                  Reconciliation Sweep                      │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	    ┌────────────┼────────────────────────┐
	    ▼            ▼                        ▼
	 stale        offline past             running jobs
	 workers      eviction grace
	    │            │                        │
	    ▼            ▼                        ▼
	 mark offline  evict identity    worker unknown -> reschedule
	 reschedule                      past MaxJobDuration -> fail,
	 held jobs                       cancel on worker

A worker is stale once its last heartbeat is older than the heartbeat grace period
(30 seconds by default). Rescheduling charges the job a retry; past the retry limit
the state machine fails the job with a worker unavailable error instead.

Running jobs whose assigned worker the registry does not know are orphans, typically
left by a worker that re-registered under a new identity after a crash. They are
rescheduled the same way as jobs held by a stale worker.
*/
package reconciler
