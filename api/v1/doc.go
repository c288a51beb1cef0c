/*
Package v1 defines the wire contract of the Tusk scheduler.

The Scheduler service is plain gRPC whose messages are Go structs encoded as
JSON. The codec is registered under the content-subtype "json" when this
package is imported, and NewSchedulerClient adds the matching call option to
every call, so both ends only need to import the package.

Client surface: SubmitJob, GetJob, CancelJob, ListJobs, GetClusterStatus,
FetchResult (server stream of result batches) and WatchJob (server stream of
job snapshots).

Worker surface: RegisterWorker, Heartbeat (unary poll), Connect (bidirectional
heartbeat/command session), ReportProgress and ReportCompletion (client stream
of result batches ending in an outcome).
*/
package v1
