/*
Package types defines the domain model shared by every Tusk component.

Jobs are the unit of work: a query descriptor plus the lifecycle state the scheduler
tracks for it. Workers are processes that execute jobs; their records live only in
the scheduler's in-memory registry and are rebuilt from re-registration after a
restart. Commands carry assign and cancel instructions back to workers on heartbeat
responses. Batches hold columnar query results.

# Job lifecycle

	pending ──assign──▶ running ──complete──▶ completed
	   │                  │  │
	   │                  │  └──fail──▶ failed
	   │                  └──reschedule──▶ pending (retry budget)
	   └──cancel / fail──▶ cancelled / failed

completed, failed and cancelled are terminal. A job carries a result handle iff it
is completed and an error iff it failed.

# Errors

The sentinel errors in errors.go form the error taxonomy. Packages wrap them with
fmt.Errorf("...: %w", ...) and the transport maps them to gRPC status codes.
*/
package types
