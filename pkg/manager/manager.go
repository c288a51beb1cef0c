package manager

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/reconciler"
	"github.com/tuskdata/tusk/pkg/registry"
	"github.com/tuskdata/tusk/pkg/scheduler"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/types"
)

// Result backends
const (
	ResultBackendBolt  = "bolt"
	ResultBackendMinio = "minio"
)

const (
	resultStoreAttempts = 3
	resultStoreBackoff  = 100 * time.Millisecond
)

// Manager is the scheduler process: it owns the job log, the worker registry, the state
// machine and the background loops, and exposes the operations the API serves.
type Manager struct {
	dataDir string

	store      *storage.BoltStore
	results    storage.ResultStore
	broker     *events.Broker
	registry   *registry.Registry
	machine    *jobs.Machine
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	collector  *metrics.Collector
	started    bool
	logger     zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir          string
	Jobs             jobs.Config
	Health           reconciler.Config
	ScheduleInterval time.Duration
	MetricsInterval  time.Duration
	ResultBackend    string
	Minio            storage.MinioConfig
}

// NewManager opens the job log and wires the scheduler components
func NewManager(cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	var results storage.ResultStore
	switch cfg.ResultBackend {
	case "", ResultBackendBolt:
		results = store
	case ResultBackendMinio:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		results, err = storage.NewMinioResultStore(ctx, cfg.Minio)
		cancel()
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to create result store: %w", err)
		}
	default:
		store.Close()
		return nil, fmt.Errorf("unknown result backend %q", cfg.ResultBackend)
	}

	broker := events.NewBroker()
	broker.Start()

	reg := registry.New(registry.WithBroker(broker))
	machine := jobs.NewMachine(store, cfg.Jobs, jobs.WithBroker(broker))
	sched := scheduler.NewScheduler(machine, reg, broker, cfg.ScheduleInterval)

	m := &Manager{
		dataDir:    cfg.DataDir,
		store:      store,
		results:    results,
		broker:     broker,
		registry:   reg,
		machine:    machine,
		scheduler:  sched,
		reconciler: reconciler.NewReconciler(machine, reg, sched, cfg.Health),
		logger:     log.WithComponent("manager"),
	}
	m.collector = metrics.NewCollector(m, cfg.MetricsInterval)

	metrics.UpdateComponent(metrics.ComponentStorage, true, "")
	metrics.UpdateComponent(metrics.ComponentScheduler, false, "recovering")
	return m, nil
}

// Start requeues jobs orphaned by a previous run and starts the background loops
func (m *Manager) Start() error {
	n, err := m.machine.Recover()
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentScheduler, false, err.Error())
		return fmt.Errorf("failed to recover jobs: %w", err)
	}
	if n > 0 {
		m.logger.Info().Int("jobs", n).Msg("Requeued running jobs from previous run")
	}

	m.scheduler.Start()
	m.reconciler.Start()
	m.collector.Start()
	m.started = true
	m.scheduler.Trigger()

	metrics.UpdateComponent(metrics.ComponentScheduler, true, "")
	m.logger.Info().Str("data_dir", m.dataDir).Msg("Scheduler started")
	return nil
}

// Shutdown stops the background loops and closes the job log
func (m *Manager) Shutdown() error {
	if m.started {
		m.collector.Stop()
		m.reconciler.Stop()
		m.scheduler.Stop()
		m.started = false
	}
	m.broker.Stop()
	metrics.UpdateComponent(metrics.ComponentStorage, false, "closed")
	return m.store.Close()
}

// Broker returns the event broker
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// SubmitJob validates and enqueues a query
func (m *Manager) SubmitJob(query types.QuerySpec, principal string) (*types.Job, error) {
	return m.machine.Submit(query, principal)
}

// GetJob returns a job by id
func (m *Manager) GetJob(id string) (*types.Job, error) {
	return m.machine.Get(id)
}

// ListJobs returns jobs newest first
func (m *Manager) ListJobs(filter types.JobFilter) ([]*types.Job, error) {
	return m.machine.List(filter)
}

// CancelJob cancels a job and tells its worker to stop. It is idempotent.
func (m *Manager) CancelJob(id string) (*types.Job, error) {
	job, changed, err := m.machine.Cancel(id)
	if err != nil {
		return nil, err
	}
	if changed && job.AssignedWorkerID != "" {
		m.scheduler.Revoke(job.AssignedWorkerID, job.ID)
	}
	return job, nil
}

// GetClusterStatus projects the registry and active jobs
func (m *Manager) GetClusterStatus() (*types.ClusterStatus, error) {
	running, err := m.machine.ListByStatus(types.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	pending, err := m.machine.ListByStatus(types.JobStatusPending)
	if err != nil {
		return nil, err
	}
	return &types.ClusterStatus{
		Workers:    m.registry.List(),
		ActiveJobs: running,
		Queued:     len(pending),
	}, nil
}

// FetchResult streams the result batches of a completed job to fn
func (m *Manager) FetchResult(ctx context.Context, id string, fn func(*types.Batch) error) error {
	job, err := m.machine.Get(id)
	if err != nil {
		return err
	}
	if job.Status != types.JobStatusCompleted {
		return fmt.Errorf("job %s is %s: %w", id, job.Status, types.ErrInvalidState)
	}
	return m.results.ReadResult(ctx, job.ResultHandle, fn)
}

// WatchJob calls fn with the job's state now and after every change until it is terminal
// or ctx ends. Missed events are covered by a periodic re-read.
func (m *Manager) WatchJob(ctx context.Context, id string, fn func(*types.Job) error) error {
	sub := m.broker.Subscribe()
	defer m.broker.Unsubscribe(sub)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last time.Time
	emit := func() (bool, error) {
		job, err := m.machine.Get(id)
		if err != nil {
			return false, err
		}
		if !job.UpdatedAt.Equal(last) {
			last = job.UpdatedAt
			if err := fn(job); err != nil {
				return false, err
			}
		}
		return job.Status.IsTerminal(), nil
	}

	if done, err := emit(); err != nil || done {
		return err
	}

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			if ev.JobID() != id {
				continue
			}
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		if done, err := emit(); err != nil || done {
			return err
		}
	}
}

// RegisterWorker adds a worker identity to the registry
func (m *Manager) RegisterWorker(address string, capacity int, engine string) (*types.Worker, error) {
	return m.registry.Register(address, capacity, engine)
}

// Heartbeat refreshes a worker and returns its pending commands
func (m *Manager) Heartbeat(workerID string, hm types.HealthMetrics, running []string) ([]types.Command, error) {
	return m.registry.Heartbeat(workerID, hm, running)
}

// WorkerNotify returns the channel signalled when commands are queued for the worker
func (m *Manager) WorkerNotify(workerID string) (<-chan struct{}, error) {
	return m.registry.Notify(workerID)
}

// PendingCommands drains the worker's mailbox between heartbeats
func (m *Manager) PendingCommands(workerID string) ([]types.Command, error) {
	return m.registry.Drain(workerID)
}

// ReportProgress records a stage fraction reported by a worker
func (m *Manager) ReportProgress(workerID, jobID, stage string, fraction float64) error {
	return m.machine.ReportProgress(jobID, workerID, stage, fraction)
}

// ReportCompletion records the outcome a worker reports for a job. A non-empty execErr fails
// the job; otherwise the batches are stored and the job completes. Reports that lose a race
// with cancellation or a timeout are accepted and discarded. A result that cannot be stored
// fails the job. The worker's slot is released in every case.
func (m *Manager) ReportCompletion(ctx context.Context, workerID, jobID string, batches []*types.Batch, execErr string) error {
	defer m.scheduler.Release(workerID, jobID)

	if execErr != "" {
		_, err := m.machine.Fail(jobID, workerID, fmt.Sprintf("%s: %s", types.ErrEngineExecution, execErr))
		return err
	}

	job, err := m.machine.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		m.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Discarding late result")
		return nil
	}
	if job.Status != types.JobStatusRunning || job.AssignedWorkerID != workerID {
		return fmt.Errorf("job %s is not running on worker %s: %w", jobID, workerID, types.ErrInvalidTransition)
	}

	handle, err := m.storeResult(ctx, jobID, batches)
	if err != nil {
		// the slot is released on return, so the job must not stay running
		m.logger.Error().Err(err).Str("job_id", jobID).Str("worker_id", workerID).Msg("Failed to store result")
		_, ferr := m.machine.Fail(jobID, workerID, fmt.Sprintf("failed to store result: %v", err))
		return ferr
	}

	changed, err := m.machine.Complete(jobID, workerID, handle)
	if err != nil || !changed {
		if derr := m.results.DeleteResult(ctx, handle); derr != nil {
			m.logger.Warn().Err(derr).Str("job_id", jobID).Msg("Failed to delete discarded result")
		}
		return err
	}

	rows := 0
	for _, b := range batches {
		rows += b.NumRows()
	}
	m.logger.Info().Str("job_id", jobID).Str("worker_id", workerID).Int("rows", rows).Msg("Job completed")
	return nil
}

// storeResult writes the batches to the result store, retrying transient failures
func (m *Manager) storeResult(ctx context.Context, jobID string, batches []*types.Batch) (string, error) {
	backoff := resultStoreBackoff
	var err error
	for attempt := 1; attempt <= resultStoreAttempts; attempt++ {
		var handle string
		handle, err = m.results.PutResult(ctx, jobID, batches)
		if err == nil {
			return handle, nil
		}
		if attempt == resultStoreAttempts {
			break
		}
		m.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("Retrying result store")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", fmt.Errorf("%w (after %v)", ctx.Err(), err)
		}
		backoff *= 2
	}
	return "", err
}

// ListWorkers returns every registered worker
func (m *Manager) ListWorkers() []*types.Worker {
	return m.registry.List()
}

// CountJobsByStatus counts jobs in the job log per status
func (m *Manager) CountJobsByStatus() (map[types.JobStatus]int, error) {
	return m.store.CountJobsByStatus()
}
