package jobs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMachine(t *testing.T, cfg Config) (*Machine, *storage.BoltStore, *fakeClock) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMachine(store, cfg, WithClock(clock.Now)), store, clock
}

func submit(t *testing.T, m *Machine) *types.Job {
	t.Helper()
	job, err := m.Submit(types.QuerySpec{Text: "select count(*) from events"}, "alice")
	require.NoError(t, err)
	return job
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		query   types.QuerySpec
		wantErr bool
	}{
		{name: "valid", query: types.QuerySpec{Text: "select 1"}},
		{name: "valid with params", query: types.QuerySpec{Text: "select ?", Params: map[string]string{"a": "1"}}},
		{name: "empty text", query: types.QuerySpec{Text: ""}, wantErr: true},
		{name: "whitespace text", query: types.QuerySpec{Text: "  \n\t "}, wantErr: true},
		{name: "empty param key", query: types.QuerySpec{Text: "select 1", Params: map[string]string{"": "1"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, store, _ := newTestMachine(t, DefaultConfig())
			job, err := m.Submit(tt.query, "")
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrValidation)
				all, err := store.ListJobs(types.JobFilter{})
				require.NoError(t, err)
				assert.Empty(t, all, "rejected submissions must not create a record")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusPending, job.Status)
			assert.Empty(t, job.AssignedWorkerID)

			stored, err := store.GetJob(job.ID)
			require.NoError(t, err)
			assert.Equal(t, types.JobStatusPending, stored.Status)
		})
	}
}

func TestLifecycle(t *testing.T) {
	m, _, clock := newTestMachine(t, DefaultConfig())
	job := submit(t, m)

	clock.Advance(time.Second)
	running, err := m.Assign(job.ID, "w-1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, running.Status)
	assert.Equal(t, "w-1", running.AssignedWorkerID)
	assert.Equal(t, clock.Now(), running.StartedAt)

	require.NoError(t, m.ReportProgress(job.ID, "w-1", "execute", 0.5))
	require.NoError(t, m.ReportProgress(job.ID, "w-1", "execute", 0.75))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, []types.Stage{{Name: "execute", Fraction: 0.75}}, got.Progress)

	changed, err := m.Complete(job.ID, "w-1", "bolt:"+job.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err = m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, "bolt:"+job.ID, got.ResultHandle)
	assert.Empty(t, got.Error)
	assert.False(t, got.CompletedAt.IsZero())
}

func TestInvalidTransitions(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())
	job := submit(t, m)

	_, err := m.Complete(job.ID, "w-1", "bolt:x")
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "complete requires running")

	err = m.ReportProgress(job.ID, "w-1", "execute", 0.1)
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "progress requires running")

	_, err = m.Assign(job.ID, "w-1")
	require.NoError(t, err)
	_, err = m.Assign(job.ID, "w-2")
	assert.ErrorIs(t, err, types.ErrInvalidTransition, "assign requires pending")

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "w-1", got.AssignedWorkerID, "rejected transitions leave state unchanged")

	_, err = m.Assign("missing", "w-1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestProgressValidation(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())
	job := submit(t, m)
	_, err := m.Assign(job.ID, "w-1")
	require.NoError(t, err)

	assert.ErrorIs(t, m.ReportProgress(job.ID, "w-1", "", 0.5), types.ErrValidation)
	assert.ErrorIs(t, m.ReportProgress(job.ID, "w-1", "execute", 1.5), types.ErrValidation)
	assert.ErrorIs(t, m.ReportProgress(job.ID, "w-1", "execute", -0.1), types.ErrValidation)
}

func TestStaleWorkerReportsAreRejected(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())
	job := submit(t, m)
	_, err := m.Assign(job.ID, "w-1")
	require.NoError(t, err)
	_, err = m.Reschedule(job.ID, "worker offline")
	require.NoError(t, err)
	_, err = m.Assign(job.ID, "w-2")
	require.NoError(t, err)

	assert.ErrorIs(t, m.ReportProgress(job.ID, "w-1", "execute", 0.9), types.ErrInvalidTransition)
	_, err = m.Complete(job.ID, "w-1", "bolt:x")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	_, err = m.Fail(job.ID, "w-1", "boom")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
	assert.Equal(t, "w-2", got.AssignedWorkerID)
}

func TestCancel(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultConfig())
		job := submit(t, m)

		got, changed, err := m.Cancel(job.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, types.JobStatusCancelled, got.Status)
		assert.True(t, got.CancelRequested)
	})

	t.Run("running keeps the assigned worker", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultConfig())
		job := submit(t, m)
		_, err := m.Assign(job.ID, "w-1")
		require.NoError(t, err)

		got, changed, err := m.Cancel(job.ID)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "w-1", got.AssignedWorkerID)

		// a late report from the worker is harmless
		require.NoError(t, m.ReportProgress(job.ID, "w-1", "execute", 1))
		changed, err = m.Complete(job.ID, "w-1", "bolt:x")
		require.NoError(t, err)
		assert.False(t, changed)

		after, err := m.Get(job.ID)
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusCancelled, after.Status)
		assert.Empty(t, after.ResultHandle)
		assert.Empty(t, after.Progress)
	})

	t.Run("completed is a no-op", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultConfig())
		job := submit(t, m)
		_, err := m.Assign(job.ID, "w-1")
		require.NoError(t, err)
		_, err = m.Complete(job.ID, "w-1", "bolt:"+job.ID)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			got, changed, err := m.Cancel(job.ID)
			require.NoError(t, err)
			assert.False(t, changed)
			assert.Equal(t, types.JobStatusCompleted, got.Status)
			assert.Equal(t, "bolt:"+job.ID, got.ResultHandle)
		}
	})

	t.Run("unknown job", func(t *testing.T) {
		m, _, _ := newTestMachine(t, DefaultConfig())
		_, _, err := m.Cancel("nope")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestRescheduleRetryLimit(t *testing.T) {
	m, _, _ := newTestMachine(t, Config{MaxRetries: 3})
	job := submit(t, m)

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := m.Assign(job.ID, "w-1")
		require.NoError(t, err)
		got, err := m.Reschedule(job.ID, "worker offline")
		require.NoError(t, err)
		assert.Equal(t, types.JobStatusPending, got.Status)
		assert.Equal(t, attempt, got.Retries)
		assert.Empty(t, got.AssignedWorkerID)
	}

	_, err := m.Assign(job.ID, "w-1")
	require.NoError(t, err)
	got, err := m.Reschedule(job.ID, "worker offline")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "worker unavailable")
	assert.Contains(t, got.Error, MsgMaxRetries)
	assert.Empty(t, got.ResultHandle)
}

func TestRescheduleIgnoresNonRunning(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())
	job := submit(t, m)

	got, err := m.Reschedule(job.ID, "worker offline")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.Retries)
}

func TestRescheduleBackoff(t *testing.T) {
	m, _, clock := newTestMachine(t, Config{MaxRetries: 10, Backoff: time.Second, BackoffMax: 3 * time.Second})
	job := submit(t, m)

	expected := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for _, want := range expected {
		_, err := m.Assign(job.ID, "w-1")
		require.NoError(t, err)
		got, err := m.Reschedule(job.ID, "worker offline")
		require.NoError(t, err)
		assert.Equal(t, clock.Now().Add(want), got.NotBefore)
	}
}

func TestFailByScheduler(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())
	job := submit(t, m)
	_, err := m.Assign(job.ID, "w-1")
	require.NoError(t, err)

	changed, err := m.Fail(job.ID, "", MsgMaxDuration)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, MsgMaxDuration, got.Error)
}

func TestRecoverRequeuesRunningJobs(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)

	m := NewMachine(store, DefaultConfig())
	running := submit(t, m)
	_, err = m.Assign(running.ID, "w-1")
	require.NoError(t, err)
	require.NoError(t, m.ReportProgress(running.ID, "w-1", "execute", 0.4))
	pending := submit(t, m)
	done := submit(t, m)
	_, err = m.Assign(done.ID, "w-1")
	require.NoError(t, err)
	_, err = m.Complete(done.ID, "w-1", "bolt:"+done.ID)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// scheduler restart
	store, err = storage.NewBoltStore(dir)
	require.NoError(t, err)
	defer store.Close()
	m = NewMachine(store, DefaultConfig())

	n, err := m.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Get(running.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
	assert.Empty(t, got.AssignedWorkerID)
	assert.Empty(t, got.Progress)
	assert.Equal(t, 0, got.Retries)

	got, err = m.Get(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)

	got, err = m.Get(done.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.Equal(t, "bolt:"+done.ID, got.ResultHandle)
}

func TestConcurrentCancelAndComplete(t *testing.T) {
	m, _, _ := newTestMachine(t, DefaultConfig())

	for i := 0; i < 10; i++ {
		job := submit(t, m)
		_, err := m.Assign(job.ID, "w-1")
		require.NoError(t, err)

		var wg sync.WaitGroup
		var cancelled, completed bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelled, _ = m.Cancel(job.ID)
		}()
		go func() {
			defer wg.Done()
			completed, _ = m.Complete(job.ID, "w-1", "bolt:"+job.ID)
		}()
		wg.Wait()

		assert.True(t, cancelled != completed, "exactly one terminal transition wins")
		got, err := m.Get(job.ID)
		require.NoError(t, err)
		assert.True(t, got.Status.IsTerminal())
		assert.Equal(t, got.Status == types.JobStatusCompleted, got.ResultHandle != "")
	}
}
