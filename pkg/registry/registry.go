package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/types"
)

// entry is the registry's private view of one worker identity
type entry struct {
	worker     types.Worker
	reserved   map[string]bool
	draining   map[string]bool
	superseded bool
	mailbox    []types.Command
	notify     chan struct{}
}

func (e *entry) status() types.WorkerStatus {
	if e.worker.Status == types.WorkerStatusOffline {
		return types.WorkerStatusOffline
	}
	if len(e.reserved) >= e.worker.Capacity {
		return types.WorkerStatusBusy
	}
	return types.WorkerStatusIdle
}

func (e *entry) snapshot() *types.Worker {
	w := e.worker
	w.Status = e.status()
	w.Jobs = make([]string, 0, len(e.reserved))
	for id := range e.reserved {
		w.Jobs = append(w.Jobs, id)
	}
	sort.Strings(w.Jobs)
	return &w
}

func (e *entry) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Registry is the scheduler's in-memory view of live workers.
// All mutations are serialized behind one mutex; events are published after it is released.
type Registry struct {
	mu        sync.Mutex
	workers   map[string]*entry
	byAddress map[string]string
	broker    *events.Broker
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithBroker publishes worker events to b
func WithBroker(b *events.Broker) Option {
	return func(r *Registry) {
		r.broker = b
	}
}

// New creates an empty registry
func New(opts ...Option) *Registry {
	r := &Registry{
		workers:   make(map[string]*entry),
		byAddress: make(map[string]string),
		now:       time.Now,
		logger:    log.WithComponent("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) publish(evs ...*events.Event) {
	if r.broker == nil {
		return
	}
	for _, ev := range evs {
		r.broker.Publish(ev)
	}
}

// Register records a new worker identity. Every call yields a fresh id; an older identity at
// the same address stops receiving work and is left for the health monitor to retire.
func (r *Registry) Register(address string, capacity int, engine string) (*types.Worker, error) {
	if address == "" {
		return nil, fmt.Errorf("worker address is required: %w", types.ErrValidation)
	}
	if capacity < 1 {
		return nil, fmt.Errorf("worker capacity must be at least 1, got %d: %w", capacity, types.ErrValidation)
	}

	r.mu.Lock()
	now := r.now()
	e := &entry{
		worker: types.Worker{
			ID:            uuid.New().String(),
			Address:       address,
			Engine:        engine,
			Capacity:      capacity,
			Status:        types.WorkerStatusIdle,
			LastHeartbeat: now,
			RegisteredAt:  now,
		},
		reserved: make(map[string]bool),
		draining: make(map[string]bool),
		notify:   make(chan struct{}, 1),
	}
	var previous string
	var previousLive bool
	if prevID, ok := r.byAddress[address]; ok {
		if prev, ok := r.workers[prevID]; ok && !prev.superseded {
			prev.superseded = true
			previous = prevID
			previousLive = prev.worker.Status != types.WorkerStatusOffline
		}
	}
	r.workers[e.worker.ID] = e
	r.byAddress[address] = e.worker.ID
	w := e.snapshot()
	r.mu.Unlock()

	ev := r.logger.Info().
		Str("worker_id", w.ID).
		Str("address", address).
		Int("capacity", capacity).
		Str("engine", engine)
	if previous != "" {
		ev = ev.Str("supersedes", previous)
	}
	ev.Msg("Worker registered")
	if previousLive {
		r.logger.Warn().
			Str("worker_id", previous).
			Str("address", address).
			Msg("Live worker superseded by a new registration at the same address")
	}

	r.publish(events.NewWorkerEvent(events.EventWorkerRegistered, w.ID, "worker registered at "+address))
	return w, nil
}

// Heartbeat refreshes liveness and returns queued commands. Offline and unknown ids are
// rejected so the worker re-registers. Draining jobs the worker no longer runs are released.
func (r *Registry) Heartbeat(id string, metrics types.HealthMetrics, running []string) ([]types.Command, error) {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok || e.worker.Status == types.WorkerStatusOffline {
		r.mu.Unlock()
		return nil, fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}

	e.worker.LastHeartbeat = r.now()
	e.worker.Metrics = metrics

	wasBusy := e.status() == types.WorkerStatusBusy
	if len(e.draining) > 0 {
		active := make(map[string]bool, len(running))
		for _, jobID := range running {
			active[jobID] = true
		}
		for jobID := range e.draining {
			if !active[jobID] {
				delete(e.draining, jobID)
				delete(e.reserved, jobID)
			}
		}
	}
	freed := wasBusy && e.status() == types.WorkerStatusIdle

	cmds := e.mailbox
	e.mailbox = nil
	r.mu.Unlock()

	if freed {
		r.publish(events.NewWorkerEvent(events.EventWorkerIdle, id, "draining jobs released"))
	}
	return cmds, nil
}

// MarkOffline moves a worker to offline and returns every job id it held
func (r *Registry) MarkOffline(id string) ([]string, error) {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}
	if e.worker.Status == types.WorkerStatusOffline {
		r.mu.Unlock()
		return nil, nil
	}

	e.worker.Status = types.WorkerStatusOffline
	released := make([]string, 0, len(e.reserved))
	for jobID := range e.reserved {
		released = append(released, jobID)
	}
	sort.Strings(released)
	e.reserved = make(map[string]bool)
	e.draining = make(map[string]bool)
	e.mailbox = nil
	age := r.now().Sub(e.worker.LastHeartbeat)
	r.mu.Unlock()

	r.logger.Warn().
		Str("worker_id", id).
		Dur("since_heartbeat", age).
		Int("jobs", len(released)).
		Msg("Worker marked offline")

	r.publish(events.NewWorkerEvent(events.EventWorkerOffline, id, "heartbeat lapsed"))
	return released, nil
}

// ListHealthy returns workers that can receive new assignments
func (r *Registry) ListHealthy() []*types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*types.Worker
	for _, e := range r.workers {
		if e.worker.Status == types.WorkerStatusOffline || e.superseded {
			continue
		}
		out = append(out, e.snapshot())
	}
	sortByID(out)
	return out
}

// List returns every known worker, offline ones included
func (r *Registry) List() []*types.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Worker, 0, len(r.workers))
	for _, e := range r.workers {
		out = append(out, e.snapshot())
	}
	sortByID(out)
	return out
}

func sortByID(ws []*types.Worker) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}

// Get returns a snapshot of one worker
func (r *Registry) Get(id string) (*types.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}
	return e.snapshot(), nil
}

// Known reports whether id is registered and not offline
func (r *Registry) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	return ok && e.worker.Status != types.WorkerStatusOffline
}

// Reserve atomically claims one slot on the worker for jobID
func (r *Registry) Reserve(id, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok || e.worker.Status == types.WorkerStatusOffline || e.superseded {
		return fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}
	if e.reserved[jobID] {
		return nil
	}
	if len(e.reserved) >= e.worker.Capacity {
		return fmt.Errorf("worker %s has %d/%d slots in use: %w",
			id, len(e.reserved), e.worker.Capacity, types.ErrCapacityExceeded)
	}
	e.reserved[jobID] = true
	return nil
}

// Release frees the slot jobID holds on the worker. It reports whether a slot was held.
func (r *Registry) Release(id, jobID string) bool {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok || !e.reserved[jobID] {
		r.mu.Unlock()
		return false
	}
	delete(e.reserved, jobID)
	delete(e.draining, jobID)
	idle := e.status() == types.WorkerStatusIdle
	r.mu.Unlock()

	if idle {
		r.publish(events.NewWorkerEvent(events.EventWorkerIdle, id, "slot released"))
	}
	return true
}

// Enqueue adds a command to the worker's mailbox and wakes its session. An assignment
// for a job that was revoked after its slot was reserved is dropped together with the
// queued cancel, and ErrInvalidTransition is returned.
func (r *Registry) Enqueue(id string, cmd types.Command) error {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok || e.worker.Status == types.WorkerStatusOffline {
		r.mu.Unlock()
		return fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}

	if cmd.Type == types.CommandAssign && (!e.reserved[cmd.JobID] || e.draining[cmd.JobID]) {
		e.mailbox = slices.DeleteFunc(e.mailbox, func(c types.Command) bool {
			return c.Type == types.CommandCancel && c.JobID == cmd.JobID
		})
		released := e.reserved[cmd.JobID]
		delete(e.reserved, cmd.JobID)
		delete(e.draining, cmd.JobID)
		idle := e.status() == types.WorkerStatusIdle
		r.mu.Unlock()

		if released && idle {
			r.publish(events.NewWorkerEvent(events.EventWorkerIdle, id, "assignment revoked before delivery"))
		}
		return fmt.Errorf("job %s was revoked before delivery: %w", cmd.JobID, types.ErrInvalidTransition)
	}

	e.mailbox = append(e.mailbox, cmd)
	e.signal()
	r.mu.Unlock()
	return nil
}

// Revoke withdraws jobID from the worker after a cancellation or timeout. An assignment
// still sitting in the mailbox is dropped and its slot released immediately (returns true).
// Otherwise the slot is kept draining and a cancel command is queued (returns false).
func (r *Registry) Revoke(id, jobID string) bool {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok || !e.reserved[jobID] {
		r.mu.Unlock()
		return false
	}

	for i, cmd := range e.mailbox {
		if cmd.Type == types.CommandAssign && cmd.JobID == jobID {
			e.mailbox = append(e.mailbox[:i], e.mailbox[i+1:]...)
			delete(e.reserved, jobID)
			delete(e.draining, jobID)
			idle := e.status() == types.WorkerStatusIdle
			r.mu.Unlock()

			if idle {
				r.publish(events.NewWorkerEvent(events.EventWorkerIdle, id, "undelivered assignment revoked"))
			}
			return true
		}
	}

	e.draining[jobID] = true
	e.mailbox = append(e.mailbox, types.Command{Type: types.CommandCancel, JobID: jobID})
	e.signal()
	r.mu.Unlock()
	return false
}

// Drain removes and returns the worker's queued commands without refreshing liveness
func (r *Registry) Drain(id string) ([]types.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok || e.worker.Status == types.WorkerStatusOffline {
		return nil, fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}
	cmds := e.mailbox
	e.mailbox = nil
	return cmds, nil
}

// Notify returns the channel signalled when the worker's mailbox gains a command
func (r *Registry) Notify(id string) (<-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("worker %s: %w", id, types.ErrUnknownWorker)
	}
	return e.notify, nil
}

// Stale returns non-offline workers whose last heartbeat is older than grace
func (r *Registry) Stale(grace time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var ids []string
	for id, e := range r.workers {
		if e.worker.Status != types.WorkerStatusOffline && now.Sub(e.worker.LastHeartbeat) > grace {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Evictable returns offline workers whose last heartbeat is older than after
func (r *Registry) Evictable(after time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var ids []string
	for id, e := range r.workers {
		if e.worker.Status == types.WorkerStatusOffline && now.Sub(e.worker.LastHeartbeat) > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Evict forgets a worker identity entirely
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	e, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.workers, id)
	if r.byAddress[e.worker.Address] == id {
		delete(r.byAddress, e.worker.Address)
	}
	r.mu.Unlock()

	r.logger.Info().Str("worker_id", id).Msg("Worker evicted")
	r.publish(events.NewWorkerEvent(events.EventWorkerEvicted, id, "offline past eviction grace"))
}
