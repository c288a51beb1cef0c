package scheduler

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/events"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/registry"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/types"
)

type harness struct {
	machine  *jobs.Machine
	registry *registry.Registry
	sched    *Scheduler
	broker   *events.Broker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	machine := jobs.NewMachine(store, jobs.DefaultConfig(), jobs.WithBroker(broker))
	reg := registry.New(registry.WithBroker(broker))
	return &harness{
		machine:  machine,
		registry: reg,
		sched:    NewScheduler(machine, reg, broker, time.Hour),
		broker:   broker,
	}
}

func (h *harness) submit(t *testing.T, text string) *types.Job {
	t.Helper()
	job, err := h.machine.Submit(types.QuerySpec{Text: text}, "")
	require.NoError(t, err)
	return job
}

func TestScheduleAssignsInSubmissionOrder(t *testing.T) {
	h := newHarness(t)
	w, err := h.registry.Register("10.0.0.1:7000", 1, "")
	require.NoError(t, err)

	first := h.submit(t, "select 1")
	second := h.submit(t, "select 2")

	n, err := h.sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := h.machine.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
	assert.Equal(t, w.ID, got.AssignedWorkerID)

	got, err = h.machine.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)

	cmds, err := h.registry.Heartbeat(w.ID, types.HealthMetrics{}, nil)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CommandAssign, cmds[0].Type)
	assert.Equal(t, first.ID, cmds[0].JobID)
	require.NotNil(t, cmds[0].Query)
	assert.Equal(t, "select 1", cmds[0].Query.Text)
}

func TestScheduleNoWorkersLeavesJobsPending(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, "select 1")

	n, err := h.sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := h.machine.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
}

func TestScheduleSpreadsByFreeCapacity(t *testing.T) {
	h := newHarness(t)
	small, err := h.registry.Register("10.0.0.1:7000", 1, "")
	require.NoError(t, err)
	large, err := h.registry.Register("10.0.0.2:7000", 3, "")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, h.submit(t, fmt.Sprintf("select %d", i)).ID)
	}

	n, err := h.sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	perWorker := map[string]int{}
	for _, id := range ids {
		job, err := h.machine.Get(id)
		require.NoError(t, err)
		perWorker[job.AssignedWorkerID]++
	}
	assert.Equal(t, 1, perWorker[small.ID])
	assert.Equal(t, 3, perWorker[large.ID])
}

func TestScheduleSkipsJobsInBackoff(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	machine := jobs.NewMachine(store, jobs.Config{MaxRetries: 3, Backoff: time.Minute, BackoffMax: time.Hour}, jobs.WithClock(clock))
	reg := registry.New(registry.WithClock(clock))
	sched := NewScheduler(machine, reg, nil, time.Hour)
	sched.now = clock

	w, err := reg.Register("10.0.0.1:7000", 1, "")
	require.NoError(t, err)
	job, err := machine.Submit(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)

	n, err := sched.Schedule()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = machine.Reschedule(job.ID, "worker offline")
	require.NoError(t, err)
	sched.Release(w.ID, job.ID)

	n, err = sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "job is held back until its backoff expires")

	now = now.Add(61 * time.Second)
	n, err = sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// N concurrent submissions against a single worker of capacity 2: at most two run at any time.
func TestConcurrentSubmissionsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	w, err := h.registry.Register("10.0.0.1:7000", 2, "")
	require.NoError(t, err)

	h.sched.Start()
	defer h.sched.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.machine.Submit(types.QuerySpec{Text: fmt.Sprintf("select %d", i)}, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	completed := 0
	deadline := time.Now().Add(10 * time.Second)
	for completed < 20 && time.Now().Before(deadline) {
		running, err := h.machine.ListByStatus(types.JobStatusRunning)
		require.NoError(t, err)
		require.LessOrEqual(t, len(running), 2, "capacity exceeded")

		reg, err := h.registry.Get(w.ID)
		require.NoError(t, err)
		require.LessOrEqual(t, len(reg.Jobs), 2)

		for _, job := range running {
			changed, err := h.machine.Complete(job.ID, w.ID, "bolt:"+job.ID)
			require.NoError(t, err)
			if changed {
				completed++
			}
			h.sched.Release(w.ID, job.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 20, completed)
}

func TestReleaseAndRevoke(t *testing.T) {
	h := newHarness(t)
	w, err := h.registry.Register("10.0.0.1:7000", 1, "")
	require.NoError(t, err)

	job := h.submit(t, "select 1")
	_, err = h.sched.Schedule()
	require.NoError(t, err)

	// cancellation before the worker saw the assignment frees the slot at once
	_, _, err = h.machine.Cancel(job.ID)
	require.NoError(t, err)
	h.sched.Revoke(w.ID, job.ID)

	got, err := h.registry.Get(w.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Jobs)

	next := h.submit(t, "select 2")
	n, err := h.sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h.sched.Release(w.ID, next.ID)
	got, err = h.registry.Get(w.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Jobs)
}

// revokingStore withdraws a job from its worker the moment the assignment is persisted
type revokingStore struct {
	storage.Store
	revoke func(job *types.Job)
}

func (s *revokingStore) PutJob(job *types.Job) error {
	if err := s.Store.PutJob(job); err != nil {
		return err
	}
	if job.Status == types.JobStatusRunning && s.revoke != nil {
		s.revoke(job)
	}
	return nil
}

func TestCancelBetweenAssignAndDelivery(t *testing.T) {
	bolt, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { bolt.Close() })

	store := &revokingStore{Store: bolt}
	machine := jobs.NewMachine(store, jobs.DefaultConfig())
	reg := registry.New()
	sched := NewScheduler(machine, reg, nil, time.Hour)

	w, err := reg.Register("10.0.0.1:7000", 1, "")
	require.NoError(t, err)
	job, err := machine.Submit(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)

	store.revoke = func(j *types.Job) {
		store.revoke = nil
		assert.False(t, reg.Revoke(j.AssignedWorkerID, j.ID), "nothing queued yet")
	}

	n, err := sched.Schedule()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	cmds, err := reg.Heartbeat(w.ID, types.HealthMetrics{}, nil)
	require.NoError(t, err)
	assert.Empty(t, cmds, "the worker is never told to run a withdrawn job")

	got, err := reg.Get(w.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Jobs)

	stored, err := machine.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Retries, "a withdrawn assignment is not rescheduled")
}
