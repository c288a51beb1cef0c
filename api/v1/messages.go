package v1

import "github.com/tuskdata/tusk/pkg/types"

// SubmitJobRequest carries a query descriptor to enqueue
type SubmitJobRequest struct {
	Query     types.QuerySpec `json:"query"`
	Principal string          `json:"principal,omitempty"`
}

type SubmitJobResponse struct {
	Job *types.Job `json:"job"`
}

type GetJobRequest struct {
	JobID string `json:"job_id"`
}

type GetJobResponse struct {
	Job *types.Job `json:"job"`
}

type CancelJobRequest struct {
	JobID string `json:"job_id"`
}

type CancelJobResponse struct {
	Job *types.Job `json:"job"`
}

// ListJobsRequest filters jobs by status; an empty status lists every job
type ListJobsRequest struct {
	Status types.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

type ListJobsResponse struct {
	Jobs []*types.Job `json:"jobs"`
}

type GetClusterStatusRequest struct{}

type GetClusterStatusResponse struct {
	Status *types.ClusterStatus `json:"status"`
}

type FetchResultRequest struct {
	JobID string `json:"job_id"`
}

// ResultBatch is one message of the FetchResult stream
type ResultBatch struct {
	Batch *types.Batch `json:"batch"`
}

type WatchJobRequest struct {
	JobID string `json:"job_id"`
}

// JobUpdate is one message of the WatchJob stream
type JobUpdate struct {
	Job *types.Job `json:"job"`
}

type RegisterWorkerRequest struct {
	Address  string `json:"address"`
	Capacity int    `json:"capacity"`
	Engine   string `json:"engine,omitempty"`
}

type RegisterWorkerResponse struct {
	Worker *types.Worker `json:"worker"`
}

// HeartbeatRequest is sent by unary Heartbeat calls and on every tick of a Connect session
type HeartbeatRequest struct {
	WorkerID string              `json:"worker_id"`
	Metrics  types.HealthMetrics `json:"metrics"`
	Running  []string            `json:"running,omitempty"`
}

// HeartbeatResponse carries the commands queued for the worker
type HeartbeatResponse struct {
	Commands []types.Command `json:"commands,omitempty"`
}

type ReportProgressRequest struct {
	WorkerID string  `json:"worker_id"`
	JobID    string  `json:"job_id"`
	Stage    string  `json:"stage"`
	Fraction float64 `json:"fraction"`
}

type ReportProgressResponse struct{}

// CompletionChunk is one message of the ReportCompletion stream. The first chunk must name
// the worker and job; later chunks may leave them empty. A chunk with Error set reports an
// execution failure and any batches are discarded.
type CompletionChunk struct {
	WorkerID string       `json:"worker_id,omitempty"`
	JobID    string       `json:"job_id,omitempty"`
	Batch    *types.Batch `json:"batch,omitempty"`
	Error    string       `json:"error,omitempty"`
}

type ReportCompletionResponse struct {
	Batches int `json:"batches"`
}
