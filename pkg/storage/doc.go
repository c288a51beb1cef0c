/*
Package storage provides the durable job log and result stores for Tusk.

BoltStore keeps every job as a JSON document in an embedded bbolt database at
<dataDir>/tusk.db. Each write is a single fsynced transaction, so a job state
acknowledged to a caller survives a scheduler crash.

# Bucket Structure

	jobs            job id -> JSON Job
	jobs_by_status  "<status>/<job id>" -> nil, moved in the same transaction as the job
	results         job id -> nested bucket of sequence-numbered JSON batches

Job ids are UUIDv7 strings, so key order in jobs and within each status prefix is
submission order. The scheduler uses that for FIFO assignment and ListJobs reverses
it to show the newest jobs first.

# Result Stores

ResultStore is implemented by BoltStore (handles of the form "bolt:<job id>") and by
MinioResultStore, which writes one JSON-lines object per job to an S3-compatible
bucket (handles "minio://<bucket>/<object>"). The scheduler picks one through the
result_backend configuration value.
*/
package storage
