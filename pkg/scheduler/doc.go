/*
Package scheduler implements the assignment engine that binds pending jobs to workers.

A pass lists pending jobs in submission order and offers each one to the healthy
workers with a free slot, most free capacity first and most recent heartbeat on ties.
For a candidate the scheduler:

 1. reserves a slot in the registry (atomic check-and-reserve),
 2. moves the job to running in the state machine, releasing the slot if that fails,
 3. queues an assign command in the worker's mailbox.

A reservation that fails with types.ErrCapacityExceeded simply moves on to the next
candidate; it is never surfaced as a job failure. Jobs still inside their reschedule
backoff window are skipped until it expires.

Passes run on job.pending, worker.registered and worker.idle events and on a periodic
sweep, and are serialized so two passes never race for the same slot. Release and
Revoke return capacity when a job finishes or is withdrawn from its worker.
*/
package scheduler
