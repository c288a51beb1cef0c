package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/registry"
	"github.com/tuskdata/tusk/pkg/scheduler"
	"github.com/tuskdata/tusk/pkg/types"
)

// Config holds health monitor timing
type Config struct {
	// Interval between sweeps
	Interval time.Duration
	// HeartbeatGrace is how long a worker may stay silent before it is marked offline
	HeartbeatGrace time.Duration
	// EvictAfter is how long an offline worker is kept before it is forgotten
	EvictAfter time.Duration
	// MaxJobDuration fails running jobs older than this; zero disables the limit
	MaxJobDuration time.Duration
}

// DefaultConfig returns the default health monitor timing
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		HeartbeatGrace: 30 * time.Second,
		EvictAfter:     5 * time.Minute,
	}
}

// Reconciler is the health monitor. It is the only component that marks workers offline or
// forces a job out of running without a client cancellation.
type Reconciler struct {
	machine   *jobs.Machine
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	cfg       Config
	now       func() time.Time
	mu        sync.Mutex
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    zerolog.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(machine *jobs.Machine, reg *registry.Registry, sched *scheduler.Scheduler, cfg Config) *Reconciler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HeartbeatGrace <= 0 {
		cfg.HeartbeatGrace = def.HeartbeatGrace
	}
	if cfg.EvictAfter <= 0 {
		cfg.EvictAfter = def.EvictAfter
	}
	return &Reconciler{
		machine:   machine,
		registry:  reg,
		scheduler: sched,
		cfg:       cfg,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the loop to exit
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation failed")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one sweep
func (r *Reconciler) Reconcile() error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.reconcileWorkers()
	r.evictWorkers()

	if err := r.reconcileJobs(); err != nil {
		return fmt.Errorf("failed to reconcile jobs: %w", err)
	}
	return nil
}

// reconcileWorkers marks silent workers offline and reschedules what they held
func (r *Reconciler) reconcileWorkers() {
	for _, id := range r.registry.Stale(r.cfg.HeartbeatGrace) {
		released, err := r.registry.MarkOffline(id)
		if err != nil {
			r.logger.Warn().Err(err).Str("worker_id", id).Msg("Failed to mark worker offline")
			continue
		}
		metrics.WorkersMarkedOffline.Inc()

		for _, jobID := range released {
			r.reschedule(jobID, "worker "+id+" offline")
		}
	}
}

func (r *Reconciler) evictWorkers() {
	for _, id := range r.registry.Evictable(r.cfg.EvictAfter) {
		r.registry.Evict(id)
	}
}

// reconcileJobs catches running jobs whose worker is gone and jobs past the duration limit
func (r *Reconciler) reconcileJobs() error {
	running, err := r.machine.ListByStatus(types.JobStatusRunning)
	if err != nil {
		return err
	}

	now := r.now()
	for _, job := range running {
		if !r.registry.Known(job.AssignedWorkerID) {
			r.reschedule(job.ID, "assigned worker "+job.AssignedWorkerID+" unknown")
			continue
		}

		if r.cfg.MaxJobDuration > 0 && now.Sub(job.StartedAt) > r.cfg.MaxJobDuration {
			changed, err := r.machine.Fail(job.ID, "", jobs.MsgMaxDuration)
			if err != nil {
				r.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to time out job")
				continue
			}
			if changed {
				r.logger.Warn().
					Str("job_id", job.ID).
					Str("worker_id", job.AssignedWorkerID).
					Dur("running_for", now.Sub(job.StartedAt)).
					Msg("Job exceeded max duration")
				r.scheduler.Revoke(job.AssignedWorkerID, job.ID)
			}
		}
	}
	return nil
}

func (r *Reconciler) reschedule(jobID, reason string) {
	if _, err := r.machine.Reschedule(jobID, reason); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to reschedule job")
	}
}
