package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/registry"
	"github.com/tuskdata/tusk/pkg/types"
)

// DefaultInterval is the sweep period between event-driven passes
const DefaultInterval = 2 * time.Second

// Scheduler assigns pending jobs to workers with free capacity
type Scheduler struct {
	machine   *jobs.Machine
	registry  *registry.Registry
	broker    *events.Broker
	interval  time.Duration
	now       func() time.Time
	passMu    sync.Mutex
	triggerCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    zerolog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(machine *jobs.Machine, reg *registry.Registry, broker *events.Broker, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		machine:   machine,
		registry:  reg,
		broker:    broker,
		interval:  interval,
		now:       time.Now,
		triggerCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    log.WithComponent("scheduler"),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	var sub events.Subscriber
	if s.broker != nil {
		sub = s.broker.Subscribe()
	}
	go s.run(sub)
}

// Stop stops the scheduler and waits for the loop to exit
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Trigger requests a scheduling pass without waiting for the next sweep
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(sub events.Subscriber) {
	defer close(s.doneCh)
	if sub != nil {
		defer s.broker.Unsubscribe(sub)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.triggerCh:
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			if !wakesScheduler(ev.Type) {
				continue
			}
		case <-s.stopCh:
			return
		}

		if _, err := s.Schedule(); err != nil {
			s.logger.Error().Err(err).Msg("Scheduling pass failed")
		}
	}
}

func wakesScheduler(t events.EventType) bool {
	switch t {
	case events.EventJobPending, events.EventWorkerRegistered, events.EventWorkerIdle:
		return true
	}
	return false
}

// Schedule runs one assignment pass over pending jobs in submission order and returns how many
// jobs were assigned.
func (s *Scheduler) Schedule() (int, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingDuration)

	pending, err := s.machine.ListByStatus(types.JobStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	workers := s.registry.ListHealthy()
	if len(workers) == 0 {
		return 0, nil
	}

	now := s.now()
	assigned := 0
	for _, job := range pending {
		if !job.NotBefore.IsZero() && now.Before(job.NotBefore) {
			continue
		}
		candidates := rankCandidates(workers)
		if len(candidates) == 0 {
			break
		}
		if w := s.assign(job, candidates); w != nil {
			w.Jobs = append(w.Jobs, job.ID)
			assigned++
		}
	}
	return assigned, nil
}

// assign tries candidates in order and returns the worker that took the job
func (s *Scheduler) assign(job *types.Job, candidates []*types.Worker) *types.Worker {
	for _, w := range candidates {
		if err := s.registry.Reserve(w.ID, job.ID); err != nil {
			// capacity raced away or the worker left; try the next one
			continue
		}

		running, err := s.machine.Assign(job.ID, w.ID)
		if err != nil {
			s.registry.Release(w.ID, job.ID)
			if errors.Is(err, types.ErrInvalidTransition) || errors.Is(err, types.ErrNotFound) {
				// cancelled or otherwise moved on since the scan
				return nil
			}
			s.logger.Error().Err(err).Str("job_id", job.ID).Str("worker_id", w.ID).Msg("Failed to assign job")
			return nil
		}

		query := running.Query
		cmd := types.Command{Type: types.CommandAssign, JobID: job.ID, Query: &query}
		if err := s.registry.Enqueue(w.ID, cmd); err != nil {
			if errors.Is(err, types.ErrInvalidTransition) {
				// cancelled or timed out between Assign and delivery
				s.logger.Debug().Str("job_id", job.ID).Str("worker_id", w.ID).Msg("Assignment withdrawn before delivery")
				return nil
			}
			s.logger.Warn().Err(err).Str("job_id", job.ID).Str("worker_id", w.ID).Msg("Worker lost before assignment delivery")
			s.registry.Release(w.ID, job.ID)
			if _, err := s.machine.Reschedule(job.ID, "worker lost before delivery"); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to reschedule job")
			}
			continue
		}

		s.logger.Info().
			Str("job_id", job.ID).
			Str("worker_id", w.ID).
			Int("retries", job.Retries).
			Msg("Job assigned")
		return w
	}
	return nil
}

// Release returns the slot a finished job held on its worker
func (s *Scheduler) Release(workerID, jobID string) {
	if workerID == "" {
		return
	}
	if s.registry.Release(workerID, jobID) {
		s.Trigger()
	}
}

// Revoke withdraws a cancelled or timed out job from its worker
func (s *Scheduler) Revoke(workerID, jobID string) {
	if workerID == "" {
		return
	}
	if s.registry.Revoke(workerID, jobID) {
		s.Trigger()
	}
}

// rankCandidates orders workers with free slots by most free capacity, then most recent
// heartbeat. Ties fall back to id for a stable order.
func rankCandidates(workers []*types.Worker) []*types.Worker {
	var out []*types.Worker
	for _, w := range workers {
		if w.FreeSlots() > 0 {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		fi, fj := out[i].FreeSlots(), out[j].FreeSlots()
		if fi != fj {
			return fi > fj
		}
		if !out[i].LastHeartbeat.Equal(out[j].LastHeartbeat) {
			return out[i].LastHeartbeat.After(out[j].LastHeartbeat)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
