package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/client"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/manager"
	"github.com/tuskdata/tusk/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func newTestServer(t *testing.T) (*manager.Manager, *client.Client) {
	t.Helper()

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:          t.TempDir(),
		Jobs:             jobs.DefaultConfig(),
		ScheduleInterval: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start())

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(mgr, Config{})
	go func() { _ = srv.Serve(lis) }()

	c, err := client.NewClient("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		srv.Stop()
		mgr.Shutdown()
	})
	return mgr, c
}

func TestClientSurface(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	_, err := c.SubmitJob(ctx, types.QuerySpec{Text: "   "}, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	_, err = c.GetJob(ctx, "does-not-exist")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = c.GetJob(ctx, "")
	assert.ErrorIs(t, err, types.ErrValidation)

	first, err := c.SubmitJob(ctx, types.QuerySpec{Text: "select 1"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusPending, first.Status)
	assert.Equal(t, "alice", first.Principal)

	second, err := c.SubmitJob(ctx, types.QuerySpec{Text: "select 2"}, "alice")
	require.NoError(t, err)

	got, err := c.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "select 1", got.Query.Text)

	jobs, err := c.ListJobs(ctx, types.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)

	cancelled, err := c.CancelJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCancelled, cancelled.Status)

	pending, err := c.ListJobs(ctx, types.JobFilter{Status: types.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	_, err = c.ListJobs(ctx, types.JobFilter{Status: "bogus"})
	assert.ErrorIs(t, err, types.ErrValidation)

	err = c.FetchResult(ctx, second.ID, func(*types.Batch) error { return nil })
	assert.ErrorIs(t, err, types.ErrInvalidState)

	status, err := c.GetClusterStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, status.Workers)
	assert.Equal(t, 1, status.Queued)
}

func TestWorkerSurfaceUnary(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	w, err := c.RegisterWorker(ctx, "10.0.0.1:7000", 1, "synthetic")
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)

	job, err := c.SubmitJob(ctx, types.QuerySpec{Text: "rows=3"}, "")
	require.NoError(t, err)

	var cmds []types.Command
	require.Eventually(t, func() bool {
		got, err := c.Heartbeat(ctx, w.ID, types.HealthMetrics{CPUPercent: 10}, nil)
		if err != nil {
			return false
		}
		cmds = append(cmds, got...)
		return len(cmds) > 0
	}, 5*time.Second, 20*time.Millisecond)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CommandAssign, cmds[0].Type)
	assert.Equal(t, job.ID, cmds[0].JobID)

	require.NoError(t, c.ReportProgress(ctx, w.ID, job.ID, "execute", 0.4))

	batches := []*types.Batch{
		{Columns: []types.Column{{Name: "n", Values: []any{float64(0), float64(1)}}}},
		{Columns: []types.Column{{Name: "n", Values: []any{float64(2)}}}},
	}
	require.NoError(t, c.ReportCompletion(ctx, w.ID, job.ID, batches, ""))

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, got.Status)

	var fetched []*types.Batch
	require.NoError(t, c.FetchResult(ctx, job.ID, func(b *types.Batch) error {
		fetched = append(fetched, b)
		return nil
	}))
	assert.Equal(t, batches, fetched)

	_, err = c.Heartbeat(ctx, "no-such-worker", types.HealthMetrics{}, nil)
	assert.ErrorIs(t, err, types.ErrUnknownWorker)

	err = c.ReportProgress(ctx, "no-such-worker", job.ID, "execute", 1)
	assert.Error(t, err)
}

func TestConnectPushesAssignments(t *testing.T) {
	_, c := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := c.RegisterWorker(ctx, "10.0.0.1:7000", 2, "")
	require.NoError(t, err)

	session, err := c.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Send(w.ID, types.HealthMetrics{}, nil))

	cmds, err := session.Recv()
	require.NoError(t, err)
	assert.Empty(t, cmds)

	job, err := c.SubmitJob(ctx, types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)

	// no further heartbeat: the assignment is pushed
	cmds, err = session.Recv()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CommandAssign, cmds[0].Type)
	assert.Equal(t, job.ID, cmds[0].JobID)

	_, err = c.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	cmds, err = session.Recv()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, types.CommandCancel, cmds[0].Type)
	assert.Equal(t, job.ID, cmds[0].JobID)
}

func TestConnectRejectsUnknownWorker(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()

	session, err := c.Connect(ctx)
	require.NoError(t, err)
	require.NoError(t, session.Send("ghost", types.HealthMetrics{}, nil))

	_, err = session.Recv()
	assert.ErrorIs(t, err, types.ErrUnknownWorker)
}

func TestWatchJob(t *testing.T) {
	_, c := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := c.SubmitJob(ctx, types.QuerySpec{Text: "select 1"}, "")
	require.NoError(t, err)

	updates := make(chan *types.Job, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.WatchJob(ctx, job.ID, func(j *types.Job) error {
			updates <- j
			return nil
		})
	}()

	first := <-updates
	assert.Equal(t, types.JobStatusPending, first.Status)

	_, err = c.CancelJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, <-done)
	var last *types.Job
	for len(updates) > 0 {
		last = <-updates
	}
	require.NotNil(t, last)
	assert.Equal(t, types.JobStatusCancelled, last.Status)

	err = c.WatchJob(ctx, "missing", func(*types.Job) error { return nil })
	assert.ErrorIs(t, err, types.ErrNotFound)
}
