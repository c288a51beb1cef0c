/*
Package events provides an in-process pub/sub broker for job and worker lifecycle
events.

The job state machine and worker registry publish events after each committed
change; the assignment engine subscribes to job.pending, worker.registered and
worker.idle to wake up, and WatchJob streams job.* events to API clients.

Delivery is best effort. Each subscriber has a 50-event buffer and events are
dropped for a subscriber whose buffer is full, so consumers must treat events as
hints and re-read authoritative state (the job log or the registry) when they
matter.
*/
package events
