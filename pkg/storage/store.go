package storage

import (
	"context"

	"github.com/tuskdata/tusk/pkg/types"
)

// Store defines the interface for the durable job log.
// A successful PutJob is durable before it returns.
type Store interface {
	// Jobs
	PutJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs(filter types.JobFilter) ([]*types.Job, error)
	ListJobsByStatus(status types.JobStatus) ([]*types.Job, error)
	CountJobsByStatus() (map[types.JobStatus]int, error)

	// Utility
	Close() error
}

// ResultStore holds the result batches of completed jobs, addressed by an opaque handle
type ResultStore interface {
	PutResult(ctx context.Context, jobID string, batches []*types.Batch) (string, error)
	ReadResult(ctx context.Context, handle string, fn func(*types.Batch) error) error
	DeleteResult(ctx context.Context, handle string) error
}
