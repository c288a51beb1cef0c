package types

import (
	"time"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AllJobStatuses lists every job status in lifecycle order
var AllJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// QuerySpec describes the query a job executes
type QuerySpec struct {
	Text       string            `json:"text" yaml:"text" validate:"required,nonblank,max=65536"`
	Datasource string            `json:"datasource,omitempty" yaml:"datasource,omitempty" validate:"max=256"`
	Params     map[string]string `json:"params,omitempty" yaml:"params,omitempty" validate:"max=64,dive,keys,required,max=128,endkeys"`
}

// Stage is one named step of job progress
type Stage struct {
	Name     string  `json:"name"`
	Fraction float64 `json:"fraction"`
}

// Job is one query execution request tracked from submission to a terminal outcome.
// Zero timestamps and empty strings stand for "not set".
type Job struct {
	ID               string    `json:"id"`
	Query            QuerySpec `json:"query"`
	Principal        string    `json:"principal,omitempty"`
	Status           JobStatus `json:"status"`
	Progress         []Stage   `json:"progress,omitempty"`
	AssignedWorkerID string    `json:"assigned_worker_id,omitempty"`
	Retries          int       `json:"retries"`
	NotBefore        time.Time `json:"not_before,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	ResultHandle     string    `json:"result_handle,omitempty"`
	Error            string    `json:"error,omitempty"`
	CancelRequested  bool      `json:"cancel_requested,omitempty"`
}

// Clone returns a deep copy safe to hand out of a lock
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Progress != nil {
		c.Progress = append([]Stage(nil), j.Progress...)
	}
	if j.Query.Params != nil {
		c.Query.Params = make(map[string]string, len(j.Query.Params))
		for k, v := range j.Query.Params {
			c.Query.Params[k] = v
		}
	}
	return &c
}

// SetStage records fraction for the named stage, appending it if new
func (j *Job) SetStage(name string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	for i := range j.Progress {
		if j.Progress[i].Name == name {
			j.Progress[i].Fraction = fraction
			return
		}
	}
	j.Progress = append(j.Progress, Stage{Name: name, Fraction: fraction})
}

// WorkerStatus represents the current state of a worker
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"    // at least one free slot
	WorkerStatusBusy    WorkerStatus = "busy"    // every slot reserved
	WorkerStatusOffline WorkerStatus = "offline" // heartbeat lapsed
)

// HealthMetrics is the health snapshot a worker carries on each heartbeat
type HealthMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Worker is a process able to execute jobs against an execution engine
type Worker struct {
	ID            string        `json:"id"`
	Address       string        `json:"address"`
	Engine        string        `json:"engine,omitempty"`
	Capacity      int           `json:"capacity"`
	Status        WorkerStatus  `json:"status"`
	LastHeartbeat time.Time     `json:"last_heartbeat"`
	Metrics       HealthMetrics `json:"metrics"`
	Jobs          []string      `json:"jobs,omitempty"`
	RegisteredAt  time.Time     `json:"registered_at"`
}

// FreeSlots returns how many more jobs the worker can accept
func (w *Worker) FreeSlots() int {
	if w.Status == WorkerStatusOffline {
		return 0
	}
	free := w.Capacity - len(w.Jobs)
	if free < 0 {
		return 0
	}
	return free
}

// CommandType identifies a scheduler-to-worker command
type CommandType string

const (
	CommandAssign CommandType = "assign"
	CommandCancel CommandType = "cancel"
)

// Command is delivered to a worker in a heartbeat response
type Command struct {
	Type  CommandType `json:"type"`
	JobID string      `json:"job_id"`
	Query *QuerySpec  `json:"query,omitempty"`
}

// ClusterStatus is a read-only projection of registry and active jobs
type ClusterStatus struct {
	Workers    []*Worker `json:"workers"`
	ActiveJobs []*Job    `json:"active_jobs"`
	Queued     int       `json:"queued"`
}

// JobFilter selects jobs for listing
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}

// Column is one column of a result batch
type Column struct {
	Name   string `json:"name"`
	Type   string `json:"type,omitempty"`
	Values []any  `json:"values"`
}

// Batch is a columnar slice of a query result
type Batch struct {
	Columns []Column `json:"columns"`
}

// NumRows returns the row count of the batch
func (b *Batch) NumRows() int {
	if b == nil || len(b.Columns) == 0 {
		return 0
	}
	return len(b.Columns[0].Values)
}
