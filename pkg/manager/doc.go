/*
Package manager wires the Tusk scheduler process together.

A Manager owns every long-lived component of the scheduler and exposes the
operations served by the gRPC API:

	┌──────────────────────── SCHEDULER PROCESS ────────────────────────┐
	│                                                                    │
	│   gRPC API ──► Manager ──► jobs.Machine ──► storage.BoltStore      │
	│                  │              │                (tusk.db)         │
	│                  │              ▼                                  │
	│                  │         events.Broker ──► scheduler.Scheduler   │
	│                  │                                  │              │
	│                  ├──► registry.Registry ◄───────────┘              │
	│                  │         ▲                                       │
	│                  │         └── reconciler.Reconciler               │
	│                  └──► storage.ResultStore (bolt or MinIO)          │
	└────────────────────────────────────────────────────────────────────┘

# Startup

NewManager opens the job log under DataDir and builds the components. Start
first recovers jobs that were running when the previous process exited: they
return to pending without being charged a retry, because the registry starts
empty and their workers must register again. The scheduling loop, the health
monitor and the metrics collector start afterwards.

# Results

Completed results are written to the configured ResultStore before the job is
marked completed, so a completed job always has a readable result. A result
that loses a race with cancellation is deleted again.
*/
package manager
