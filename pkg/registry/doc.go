/*
Package registry tracks live worker processes for the scheduler.

Worker records are held only in memory. After a scheduler restart every worker's
heartbeat fails with types.ErrUnknownWorker and the worker re-registers under a new
identity.

Capacity is enforced by Reserve, an atomic check-and-claim of one slot under the
registry lock, and returned by Release. A worker with a free slot is idle; a worker
whose slots are all reserved is busy.

Each worker has a command mailbox. The scheduler enqueues assign and cancel
commands; they are handed out on the next heartbeat, and the Notify channel lets a
streaming session push them immediately. Revoking a job whose assignment was already
delivered keeps its slot draining until the worker stops listing it as running.
*/
package registry
