/*
Package jobs implements the job state machine.

Machine is the only writer of job records. Each transition loads the job, checks the
transition contract, and writes the new state to the durable job log while holding a
single mutex, so transitions on a job are totally ordered and an acknowledged state
survives a crash. Lifecycle events are published once the lock is released.

	Submit      -> pending
	Assign      pending -> running
	Reschedule  running -> pending (retry++), or failed once retries exceed MaxRetries
	Complete    running -> completed (result handle attached)
	Fail        pending|running -> failed (error attached)
	Cancel      pending|running -> cancelled; no-op when terminal

Reports from workers (ReportProgress, Complete, Fail with a worker id) for a terminal
job are ignored, and reports from a worker the job is no longer assigned to are
rejected with types.ErrInvalidTransition.

Recover runs once at startup and moves every running job back to pending without
charging a retry, giving at-least-once execution across scheduler restarts.
*/
package jobs
