/*
Package api serves the Tusk scheduler over gRPC and HTTP.

Server implements the tusk.v1.Scheduler service on top of a manager.Manager.
Domain errors are translated at this boundary:

	types.ErrValidation          -> InvalidArgument
	types.ErrNotFound            -> NotFound
	types.ErrUnknownWorker       -> NotFound
	types.ErrInvalidTransition   -> FailedPrecondition
	types.ErrInvalidState        -> FailedPrecondition
	types.ErrCapacityExceeded    -> ResourceExhausted
	types.ErrWorkerUnavailable   -> Unavailable
	anything else                -> Internal

# Worker sessions

Connect is a bidirectional stream. The worker sends a heartbeat every tick
and the server answers each one with the commands queued for it. When the
scheduler queues a command between ticks, the session pushes it right away.
A single goroutine owns the send side of each session; a helper goroutine
only receives.

# Listeners

The TCP listener serves every RPC. StartUnix adds a local socket that only
serves reads (Get*, List*, Watch*, Fetch*), enforced by ReadOnlyInterceptor.
SubmitJob is rate limited per client address when Config.SubmitRate is set.

HealthServer is the HTTP side-port: /health, /ready, /live, /metrics and
/v1/cluster.
*/
package api
