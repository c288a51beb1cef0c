package jobs

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/types"
)

// Error messages recorded on failed jobs
const (
	MsgMaxRetries  = "max retries exceeded"
	MsgMaxDuration = "max job duration exceeded"
)

// Config holds retry policy for rescheduled jobs
type Config struct {
	// MaxRetries is how many times a job may lose its worker before it fails
	MaxRetries int
	// Backoff delays the first retry; each further retry doubles it up to BackoffMax. Zero disables.
	Backoff    time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns the default retry policy
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BackoffMax: time.Minute,
	}
}

// Machine owns every job transition. Transitions are serialized behind one mutex and
// written to the job log before they become visible; events go out after the lock is released.
type Machine struct {
	mu       sync.Mutex
	store    storage.Store
	broker   *events.Broker
	validate *validator.Validate
	cfg      Config
	now      func() time.Time
	logger   zerolog.Logger
}

// Option configures a Machine
type Option func(*Machine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithBroker publishes job events to b
func WithBroker(b *events.Broker) Option {
	return func(m *Machine) {
		m.broker = b
	}
}

// NewMachine creates a state machine over store
func NewMachine(store storage.Store, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		store:    store,
		validate: newValidator(),
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("jobs"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates a query and records a new pending job
func (m *Machine) Submit(query types.QuerySpec, principal string) (*types.Job, error) {
	if err := validateQuery(m.validate, query); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate job id: %w", err)
	}

	m.mu.Lock()
	now := m.now()
	job := &types.Job{
		ID:          id.String(),
		Query:       query,
		Principal:   principal,
		Status:      types.JobStatusPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := m.store.PutJob(job); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	m.mu.Unlock()

	metrics.JobsSubmitted.Inc()
	m.logger.Info().Str("job_id", job.ID).Str("principal", principal).Msg("Job submitted")
	m.publish(events.NewJobEvent(events.EventJobSubmitted, job.ID, "", "job submitted"))
	m.publish(events.NewJobEvent(events.EventJobPending, job.ID, "", "job queued"))
	return job.Clone(), nil
}

// Get returns the current state of a job
func (m *Machine) Get(id string) (*types.Job, error) {
	return m.store.GetJob(id)
}

// List returns jobs newest first
func (m *Machine) List(filter types.JobFilter) ([]*types.Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown job status %q: %w", filter.Status, types.ErrValidation)
	}
	return m.store.ListJobs(filter)
}

// ListByStatus returns jobs in one status in submission order
func (m *Machine) ListByStatus(status types.JobStatus) ([]*types.Job, error) {
	return m.store.ListJobsByStatus(status)
}

// Assign moves a pending job to running on workerID. The caller holds the worker slot.
func (m *Machine) Assign(jobID, workerID string) (*types.Job, error) {
	job, _, err := m.transition(jobID, func(job *types.Job, now time.Time) (bool, error) {
		if job.Status != types.JobStatusPending {
			return false, fmt.Errorf("assign job %s in status %s: %w", jobID, job.Status, types.ErrInvalidTransition)
		}
		job.Status = types.JobStatusRunning
		job.AssignedWorkerID = workerID
		job.StartedAt = now
		job.NotBefore = time.Time{}
		job.Progress = nil
		return true, nil
	})
	return job, err
}

// ReportProgress records a stage fraction for a running job. Reports for terminal jobs are
// ignored; reports from a worker the job is no longer assigned to are rejected.
func (m *Machine) ReportProgress(jobID, workerID, stage string, fraction float64) error {
	if stage == "" {
		return fmt.Errorf("progress stage is required: %w", types.ErrValidation)
	}
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("progress fraction %v outside [0,1]: %w", fraction, types.ErrValidation)
	}

	_, _, err := m.transition(jobID, func(job *types.Job, _ time.Time) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		if err := checkAssignee(job, workerID); err != nil {
			return false, err
		}
		job.SetStage(stage, fraction)
		return true, nil
	})
	return err
}

func checkAssignee(job *types.Job, workerID string) error {
	if job.Status != types.JobStatusRunning {
		return fmt.Errorf("job %s is %s, not running: %w", job.ID, job.Status, types.ErrInvalidTransition)
	}
	if workerID != "" && job.AssignedWorkerID != workerID {
		return fmt.Errorf("job %s is assigned to %s, not %s: %w",
			job.ID, job.AssignedWorkerID, workerID, types.ErrInvalidTransition)
	}
	return nil
}

// Complete marks a running job completed with its result handle. It reports false when the
// job was already terminal, in which case the result is not attached.
func (m *Machine) Complete(jobID, workerID, handle string) (bool, error) {
	if handle == "" {
		return false, fmt.Errorf("result handle is required: %w", types.ErrValidation)
	}
	_, changed, err := m.transition(jobID, func(job *types.Job, now time.Time) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		if err := checkAssignee(job, workerID); err != nil {
			return false, err
		}
		job.Status = types.JobStatusCompleted
		job.ResultHandle = handle
		job.CompletedAt = now
		return true, nil
	})
	return changed, err
}

// Fail marks a job failed. An empty workerID means the scheduler itself fails the job,
// which is allowed from pending or running.
func (m *Machine) Fail(jobID, workerID, reason string) (bool, error) {
	if reason == "" {
		reason = "unknown error"
	}
	_, changed, err := m.transition(jobID, func(job *types.Job, now time.Time) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		if workerID != "" {
			if err := checkAssignee(job, workerID); err != nil {
				return false, err
			}
		}
		job.Status = types.JobStatusFailed
		job.Error = reason
		job.CompletedAt = now
		return true, nil
	})
	return changed, err
}

// Cancel marks a non-terminal job cancelled. Cancelling a terminal job is a no-op.
// The returned job keeps its assigned worker so the caller can signal it.
func (m *Machine) Cancel(jobID string) (*types.Job, bool, error) {
	return m.transition(jobID, func(job *types.Job, now time.Time) (bool, error) {
		if job.Status.IsTerminal() {
			return false, nil
		}
		job.Status = types.JobStatusCancelled
		job.CancelRequested = true
		job.CompletedAt = now
		return true, nil
	})
}

// Reschedule returns a running job to pending after its worker was lost. Once the retry
// budget is spent the job fails with a worker unavailable error. Jobs that are not running
// are left untouched.
func (m *Machine) Reschedule(jobID, reason string) (*types.Job, error) {
	job, changed, err := m.transition(jobID, func(job *types.Job, now time.Time) (bool, error) {
		if job.Status != types.JobStatusRunning {
			return false, nil
		}
		job.Retries++
		if job.Retries > m.cfg.MaxRetries {
			job.Status = types.JobStatusFailed
			job.Error = fmt.Sprintf("%s: %s after %d attempts", types.ErrWorkerUnavailable, MsgMaxRetries, job.Retries)
			job.CompletedAt = now
			return true, nil
		}
		job.Status = types.JobStatusPending
		job.AssignedWorkerID = ""
		job.StartedAt = time.Time{}
		job.Progress = nil
		job.NotBefore = time.Time{}
		if d := m.backoff(job.Retries); d > 0 {
			job.NotBefore = now.Add(d)
		}
		return true, nil
	})
	if changed {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("reason", reason).
			Int("retries", job.Retries).
			Str("status", string(job.Status)).
			Msg("Job rescheduled")
	}
	return job, err
}

func (m *Machine) backoff(retries int) time.Duration {
	if m.cfg.Backoff <= 0 || retries < 1 {
		return 0
	}
	d := m.cfg.Backoff
	for i := 1; i < retries; i++ {
		d *= 2
		if m.cfg.BackoffMax > 0 && d >= m.cfg.BackoffMax {
			return m.cfg.BackoffMax
		}
	}
	if m.cfg.BackoffMax > 0 && d > m.cfg.BackoffMax {
		return m.cfg.BackoffMax
	}
	return d
}

// Recover re-queues every job the log shows as running. No worker can still hold them after
// a scheduler restart, so they run again (at-least-once); retries are not charged.
func (m *Machine) Recover() (int, error) {
	m.mu.Lock()
	running, err := m.store.ListJobsByStatus(types.JobStatusRunning)
	if err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}

	now := m.now()
	var recovered []string
	for _, job := range running {
		job.Status = types.JobStatusPending
		job.AssignedWorkerID = ""
		job.StartedAt = time.Time{}
		job.Progress = nil
		job.NotBefore = time.Time{}
		job.UpdatedAt = now
		if err := m.store.PutJob(job); err != nil {
			m.mu.Unlock()
			return len(recovered), fmt.Errorf("failed to requeue job %s: %w", job.ID, err)
		}
		recovered = append(recovered, job.ID)
	}
	m.mu.Unlock()

	for _, id := range recovered {
		m.logger.Info().Str("job_id", id).Msg("Requeued job orphaned by scheduler restart")
		m.publish(events.NewJobEvent(events.EventJobPending, id, "", "requeued after restart"))
	}
	return len(recovered), nil
}

// transition loads a job, applies fn and persists the result while holding the lock.
// fn reports whether it changed the job; unchanged jobs are neither written nor announced.
func (m *Machine) transition(jobID string, fn func(job *types.Job, now time.Time) (bool, error)) (*types.Job, bool, error) {
	m.mu.Lock()
	job, err := m.store.GetJob(jobID)
	if err != nil {
		m.mu.Unlock()
		return nil, false, err
	}
	prev := job.Clone()
	now := m.now()

	changed, err := fn(job, now)
	if err != nil || !changed {
		m.mu.Unlock()
		return prev, false, err
	}

	job.UpdatedAt = now
	if err := m.store.PutJob(job); err != nil {
		m.mu.Unlock()
		return prev, false, fmt.Errorf("failed to persist job %s: %w", jobID, err)
	}
	m.mu.Unlock()

	m.observe(prev, job, now)
	return job.Clone(), true, nil
}

// observe records metrics and publishes the event for a committed transition
func (m *Machine) observe(prev, job *types.Job, now time.Time) {
	if prev.Status == job.Status {
		m.publish(events.NewJobEvent(events.EventJobProgress, job.ID, job.AssignedWorkerID, "progress updated"))
		return
	}

	var ev events.EventType
	switch job.Status {
	case types.JobStatusPending:
		ev = events.EventJobPending
		metrics.JobsRescheduled.Inc()
	case types.JobStatusRunning:
		ev = events.EventJobRunning
		metrics.JobsAssigned.Inc()
		metrics.AssignmentLatency.Observe(now.Sub(prev.UpdatedAt).Seconds())
	case types.JobStatusCompleted:
		ev = events.EventJobCompleted
	case types.JobStatusFailed:
		ev = events.EventJobFailed
	case types.JobStatusCancelled:
		ev = events.EventJobCancelled
	}
	if job.Status.IsTerminal() {
		metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	}

	m.logger.Debug().
		Str("job_id", job.ID).
		Str("from", string(prev.Status)).
		Str("to", string(job.Status)).
		Str("worker_id", job.AssignedWorkerID).
		Msg("Job transition")
	m.publish(events.NewJobEvent(ev, job.ID, job.AssignedWorkerID, string(prev.Status)+" -> "+string(job.Status)))
}

func (m *Machine) publish(ev *events.Event) {
	if m.broker != nil {
		m.broker.Publish(ev)
	}
}
