/*
Package worker implements the Tusk worker runtime that executes queries.

A worker registers with the scheduler, keeps one Connect session open and runs
whatever the scheduler assigns to it through a single query engine. Workers hold
no durable state: everything they know can be lost and rebuilt by registering again.

# Architecture

	┌──────────────────────── WORKER ─────────────────────────┐
	│                                                          │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Session loop                     │          │
	│  │  - Connect stream to scheduler              │          │
	│  │  - Jittered heartbeat (metrics + running)   │          │
	│  │  - Applies assign / cancel commands         │          │
	│  └──────┬──────────────────────────┬───────────┘          │
	│         │                          │                      │
	│  ┌──────▼───────┐          ┌───────▼──────────┐           │
	│  │ Executions   │          │ HealthMonitor    │           │
	│  │ one goroutine│          │ /proc/loadavg    │           │
	│  │ per job      │          │ /proc/meminfo    │           │
	│  └──────┬───────┘          └──────────────────┘           │
	│         │                                                 │
	│  ┌──────▼───────────────────────────────────┐             │
	│  │  engine.Engine (sqlite, synthetic, ...)  │             │
	│  └──────────────────────────────────────────┘             │
	└──────────────────────────────────────────────────────────┘

# Job execution

Each assignment runs in its own goroutine with a cancellable context. Progress is
reported in three stages:

  - prepare: the job was accepted
  - execute: the engine's own fraction, reported at most twice a second
  - deliver: rows are being streamed back

The outcome goes back on ReportCompletion: result batches on success, the engine
error otherwise. A cancel command cancels the context; the worker still reports so
the scheduler can release the slot, and the scheduler discards the outcome because
the job is already terminal.

A progress report rejected with an invalid transition means the job was taken away
from this worker. The execution is stopped and nothing is reported.

# Identity

The scheduler answers a heartbeat from an identity it no longer knows with an
unknown-worker error. The worker then abandons every local execution without
reporting and registers again under a fresh id. Transport failures only reconnect,
with exponential backoff capped at 30 seconds.

# Usage

	w, err := worker.NewWorker(&worker.Config{
		SchedulerAddr: "scheduler:7070",
		Capacity:      4,
		Engine:        engine.SQLiteName,
		EngineConfig:  engine.Config{DSN: "file:/data/warehouse.db?mode=ro"},
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
*/
package worker
