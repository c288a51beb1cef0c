package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tuskdata/tusk/pkg/api"
	"github.com/tuskdata/tusk/pkg/config"
	"github.com/tuskdata/tusk/pkg/jobs"
	"github.com/tuskdata/tusk/pkg/manager"
	"github.com/tuskdata/tusk/pkg/types"
	"github.com/tuskdata/tusk/pkg/worker"
)

const helperEnv = "GO_WANT_HELPER_PROCESS=1"

// TestHelperProcess is not a real test: it is the child process the other tests spawn.
// It understands the scheduler and worker subcommands with the real flags.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	os.Exit(runHelper(args))
}

func runHelper(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "no subcommand")
		return 2
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, os.Interrupt)

	switch args[0] {
	case "echo":
		fmt.Println("ready")
		<-sig
		return 0

	case "crash":
		fmt.Println("crashing")
		return 3

	case "scheduler":
		fs := pflag.NewFlagSet("scheduler", pflag.ContinueOnError)
		config.RegisterSchedulerFlags(fs)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		cfg, err := config.LoadScheduler("", fs)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		mgr, err := manager.NewManager(&manager.Config{
			DataDir:          cfg.DataDir,
			Jobs:             jobs.DefaultConfig(),
			ScheduleInterval: 100 * time.Millisecond,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		if err := mgr.Start(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		srv := api.NewServer(mgr, api.Config{})
		go func() {
			if err := srv.Start(cfg.APIAddr); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
		fmt.Println("scheduler ready")
		<-sig
		srv.Stop()
		_ = mgr.Shutdown()
		return 0

	case "worker":
		fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
		config.RegisterWorkerFlags(fs)
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		cfg, err := config.LoadWorker("", fs)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		w, err := worker.NewWorker(&worker.Config{
			SchedulerAddr:     cfg.SchedulerAddr,
			Address:           cfg.Address,
			Capacity:          cfg.Capacity,
			Engine:            cfg.Engine,
			EngineConfig:      cfg.EngineConfig,
			HeartbeatInterval: 200 * time.Millisecond,
			ReconnectBackoff:  100 * time.Millisecond,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = w.Start(ctx)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Println("worker ready")
		<-sig
		_ = w.Stop()
		return 0
	}

	fmt.Fprintln(os.Stderr, "unknown subcommand", args[0])
	return 2
}

func helperProcess(name string, args ...string) *Process {
	p := NewProcess(name, os.Args[0], append([]string{"-test.run=^TestHelperProcess$", "--"}, args...)...)
	p.Env = []string{helperEnv}
	return p
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestLogBuffer(t *testing.T) {
	lb := &LogBuffer{}
	lb.Append("first line")
	mark := time.Now()
	time.Sleep(2 * time.Millisecond)
	lb.Append("second line")

	assert.Equal(t, 2, lb.Lines())
	assert.Equal(t, "first line\nsecond line\n", lb.String())
	assert.Equal(t, "second line\n", lb.Since(mark))
	assert.True(t, lb.Contains("second"))
	assert.False(t, lb.Contains("third"))
}

func TestProcessLifecycle(t *testing.T) {
	p := helperProcess("echo", "echo")
	assert.False(t, p.IsRunning())
	assert.NoError(t, p.Stop(time.Second), "stopping an unstarted process is a no-op")

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())
	assert.NotZero(t, p.PID())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.WaitForLog(ctx, "ready"))
	assert.True(t, p.IsRunning())

	require.NoError(t, p.Stop(5*time.Second))
	assert.False(t, p.IsRunning())
}

func TestProcessExitIsReported(t *testing.T) {
	p := helperProcess("crash", "crash")
	require.NoError(t, p.Start())

	select {
	case <-p.Exited():
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	assert.Error(t, p.Err())
	assert.Contains(t, p.Logs(), "crashing")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.Error(t, p.WaitForLog(ctx, "never printed"))
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no binary", func(c *Config) { c.Binary = "" }},
		{"no data dir", func(c *Config) { c.DataDir = "" }},
		{"no api addr", func(c *Config) { c.APIAddr = "" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
}

func TestSupervisorRunsCluster(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}

	cfg := DefaultConfig()
	cfg.Binary = os.Args[0]
	cfg.BaseArgs = []string{"-test.run=^TestHelperProcess$", "--"}
	cfg.Env = []string{helperEnv}
	cfg.DataDir = t.TempDir()
	cfg.APIAddr = freeAddr(t)
	cfg.HealthAddr = ""
	cfg.Workers = 2
	cfg.Engine = "synthetic"
	cfg.ReadyTimeout = 20 * time.Second

	s, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx), "scheduler logs:\n%s", s.Scheduler().Logs())
	require.Len(t, s.Workers(), 2)

	c := s.Client()
	job, err := c.SubmitJob(ctx, types.QuerySpec{Text: "rows=20 batch=5"}, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := c.GetJob(ctx, job.ID)
		return err == nil && got.Status == types.JobStatusCompleted
	}, 20*time.Second, 50*time.Millisecond)

	// a worker dying on its own ends Wait with an error naming it
	require.NoError(t, s.Workers()[0].Kill())
	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()
	err = s.Wait(waitCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker-1")

	require.NoError(t, s.Stop())
	assert.False(t, s.Scheduler().IsRunning())
	for _, w := range s.Workers() {
		assert.False(t, w.IsRunning())
	}
}
