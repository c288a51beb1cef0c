package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/storage"
	"github.com/tuskdata/tusk/pkg/types"
)

func newTestManager(t *testing.T, dataDir string) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		DataDir:          dataDir,
		Jobs:             jobs.DefaultConfig(),
		ScheduleInterval: time.Hour,
	})
	require.NoError(t, err)
	return m
}

// assignOne registers a worker, schedules the job onto it and delivers the assignment.
func assignOne(t *testing.T, m *Manager, job *types.Job) *types.Worker {
	t.Helper()
	w, err := m.RegisterWorker("10.0.0.1:7000", 1, "sqlite")
	require.NoError(t, err)

	n, err := m.scheduler.Schedule()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	cmds, err := m.Heartbeat(w.ID, types.HealthMetrics{}, nil)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.Equal(t, job.ID, cmds[0].JobID)
	return w
}

func sampleBatch() *types.Batch {
	return &types.Batch{Columns: []types.Column{
		{Name: "n", Type: "INTEGER", Values: []any{float64(1), float64(2)}},
		{Name: "s", Type: "TEXT", Values: []any{"a", "b"}},
	}}
}

func TestJobLifecycle(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()
	ctx := context.Background()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select n, s from t"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, job.Status)

	w := assignOne(t, m, job)

	require.NoError(t, m.ReportProgress(w.ID, job.ID, "execute", 0.5))
	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
	require.Len(t, got.Progress, 1)
	assert.Equal(t, 0.5, got.Progress[0].Fraction)

	require.NoError(t, m.ReportCompletion(ctx, w.ID, job.ID, []*types.Batch{sampleBatch()}, ""))

	got, err = m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)
	assert.NotEmpty(t, got.ResultHandle)

	var batches []*types.Batch
	err = m.FetchResult(ctx, job.ID, func(b *types.Batch) error {
		batches = append(batches, b)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, sampleBatch(), batches[0])

	worker, err := m.registry.Get(w.ID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
	assert.Empty(t, worker.Jobs)
}

func TestFetchResultRequiresCompletedJob(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()
	ctx := context.Background()
	noop := func(*types.Batch) error { return nil }

	err := m.FetchResult(ctx, "missing", noop)
	assert.ErrorIs(t, err, types.ErrNotFound)

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	err = m.FetchResult(ctx, job.ID, noop)
	assert.ErrorIs(t, err, types.ErrInvalidState)

	_, err = m.CancelJob(job.ID)
	require.NoError(t, err)
	err = m.FetchResult(ctx, job.ID, noop)
	assert.ErrorIs(t, err, types.ErrInvalidState)
}

func TestEngineErrorFailsJob(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select * from nowhere"}, "")
	require.NoError(t, err)
	w := assignOne(t, m, job)

	require.NoError(t, m.ReportCompletion(context.Background(), w.ID, job.ID, nil, "no such table: nowhere"))

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, types.ErrEngineExecution.Error())
	assert.Contains(t, got.Error, "no such table")
}

func TestCancelRunningJobDiscardsLateResult(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()
	ctx := context.Background()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	w := assignOne(t, m, job)

	cancelled, err := m.CancelJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)

	// idempotent
	again, err := m.CancelJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, again.Status)

	cmds, err := m.Heartbeat(w.ID, types.HealthMetrics{}, []string{job.ID})
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CommandCancel, cmds[0].Type)

	// the worker finished before it saw the cancel
	require.NoError(t, m.ReportCompletion(ctx, w.ID, job.ID, []*types.Batch{sampleBatch()}, ""))

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, got.Status)
	assert.Empty(t, got.ResultHandle)

	err = m.store.ReadResult(ctx, "bolt:"+job.ID, func(*types.Batch) error { return nil })
	assert.ErrorIs(t, err, types.ErrNotFound)

	worker, err := m.registry.Get(w.ID)
	require.NoError(t, err)
	assert.Empty(t, worker.Jobs)
}

// failingResults is a result store whose writes always fail
type failingResults struct {
	storage.ResultStore
	puts int
}

func (f *failingResults) PutResult(context.Context, string, []*types.Batch) (string, error) {
	f.puts++
	return "", errors.New("disk full")
}

func TestResultStoreFailureFailsJob(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	results := &failingResults{ResultStore: m.results}
	m.results = results

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	w := assignOne(t, m, job)

	require.NoError(t, m.ReportCompletion(context.Background(), w.ID, job.ID, []*types.Batch{sampleBatch()}, ""))
	assert.Equal(t, resultStoreAttempts, results.puts)

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "disk full")
	assert.Empty(t, got.ResultHandle)

	worker, err := m.registry.Get(w.ID)
	require.NoError(t, err)
	assert.Empty(t, worker.Jobs)
	assert.Equal(t, types.WorkerStatusIdle, worker.Status)
}

func TestSubmitWhileResultStreamBlocks(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()
	ctx := context.Background()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	w := assignOne(t, m, job)
	require.NoError(t, m.ReportCompletion(ctx, w.ID, job.ID, []*types.Batch{sampleBatch()}, ""))

	entered := make(chan struct{})
	release := make(chan struct{})
	fetched := make(chan error, 1)
	go func() {
		fetched <- m.FetchResult(ctx, job.ID, func(*types.Batch) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	// enough data to grow the database file while the consumer is parked
	params := make(map[string]string, 32)
	for i := 0; i < 32; i++ {
		params[fmt.Sprintf("p%d", i)] = strings.Repeat("v", 2048)
	}
	submitted := make(chan error, 1)
	go func() {
		for i := 0; i < 200; i++ {
			if _, err := m.SubmitJob(types.QuerySpec{Text: "select 2", Params: params}, ""); err != nil {
				submitted <- err
				return
			}
		}
		submitted <- nil
	}()

	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		close(release)
		t.Fatal("submissions blocked behind a result stream")
	}

	close(release)
	require.NoError(t, <-fetched)
}

func TestReportFromWrongWorkerIsRejected(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	assignOne(t, m, job)

	err = m.ReportCompletion(context.Background(), "someone-else", job.ID, []*types.Batch{sampleBatch()}, "")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, got.Status)
}

func TestClusterStatus(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	running, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	assignOne(t, m, running)
	_, err = m.SubmitJob(types.QuerySpec{Text: "select 2"}, "")
	require.NoError(t, err)

	status, err := m.GetClusterStatus()
	require.NoError(t, err)
	require.Len(t, status.Workers, 1)
	assert.Equal(t, types.WorkerStatusBusy, status.Workers[0].Status)
	require.Len(t, status.ActiveJobs, 1)
	assert.Equal(t, running.ID, status.ActiveJobs[0].ID)
	assert.Equal(t, 1, status.Queued)
}

func TestRestartRequeuesRunningJobs(t *testing.T) {
	dir := t.TempDir()

	m := newTestManager(t, dir)
	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)
	assignOne(t, m, job)
	require.NoError(t, m.Shutdown())

	m = newTestManager(t, dir)
	defer m.Shutdown()
	require.NoError(t, m.Start())

	got, err := m.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, got.Status)
	assert.Empty(t, got.AssignedWorkerID)
	assert.Zero(t, got.Retries)

	// a worker registering with the new process picks it up
	w, err := m.RegisterWorker("10.0.0.1:7000", 1, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, err := m.GetJob(job.ID)
		return err == nil && j.Status == types.JobStatusRunning && j.AssignedWorkerID == w.ID
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatchJobStopsAtTerminalState(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	defer m.Shutdown()

	job, err := m.SubmitJob(types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)

	seen := make(chan types.JobStatus, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.WatchJob(context.Background(), job.ID, func(j *types.Job) error {
			seen <- j.Status
			return nil
		})
	}()

	assert.Equal(t, types.JobStatusPending, <-seen)
	_, err = m.CancelJob(job.ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return")
	}
	var last types.JobStatus
	for len(seen) > 0 {
		last = <-seen
	}
	assert.Equal(t, types.JobStatusCancelled, last)
}
