// Package supervisor runs a development cluster: one scheduler and N workers spawned as
// child processes of the tusk binary, started in order and torn down as a group.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/client"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/types"
	"golang.org/x/sync/errgroup"
)

// Config describes a local cluster
type Config struct {
	// Binary is the tusk executable; BaseArgs are inserted before the subcommand
	Binary   string
	BaseArgs []string
	Env      []string

	DataDir    string
	APIAddr    string
	HealthAddr string

	Workers  int
	Capacity int
	Engine   string
	DSN      string

	LogLevel string
	// Output mirrors every child's log lines; nil keeps them in memory only
	Output io.Writer

	ReadyTimeout time.Duration
	StopTimeout  time.Duration
}

// DefaultConfig returns a three-worker cluster on the default ports
func DefaultConfig() Config {
	binary, err := os.Executable()
	if err != nil {
		binary = "tusk"
	}
	return Config{
		Binary:       binary,
		DataDir:      "./tusk-cluster",
		APIAddr:      "127.0.0.1:7070",
		HealthAddr:   "127.0.0.1:9090",
		Workers:      3,
		Capacity:     2,
		Engine:       "synthetic",
		LogLevel:     "info",
		ReadyTimeout: 30 * time.Second,
		StopTimeout:  10 * time.Second,
	}
}

// Supervisor runs one scheduler and N workers as child processes of the same binary
type Supervisor struct {
	cfg       Config
	scheduler *Process
	workers   []*Process
	client    *client.Client
	waiter    *Waiter
	logger    zerolog.Logger
}

// New creates a supervisor; nothing is started until Start
func New(cfg Config) (*Supervisor, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("binary is required: %w", types.ErrValidation)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required: %w", types.ErrValidation)
	}
	if cfg.APIAddr == "" {
		return nil, fmt.Errorf("api address is required: %w", types.ErrValidation)
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("worker count must not be negative, got %d: %w", cfg.Workers, types.ErrValidation)
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	c, err := client.NewClient(cfg.APIAddr)
	if err != nil {
		return nil, err
	}

	return &Supervisor{
		cfg:    cfg,
		client: c,
		waiter: NewWaiter(cfg.ReadyTimeout, 100*time.Millisecond),
		logger: log.WithComponent("supervisor"),
	}, nil
}

// Client returns a client connected to the cluster's scheduler
func (s *Supervisor) Client() *client.Client {
	return s.client
}

// Scheduler returns the scheduler process
func (s *Supervisor) Scheduler() *Process {
	return s.scheduler
}

// Workers returns the worker processes
func (s *Supervisor) Workers() []*Process {
	return s.workers
}

// Start launches the scheduler, waits for its API, then launches the workers and waits
// until all of them have registered. A failed start tears down whatever was launched.
func (s *Supervisor) Start(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			if stopErr := s.Stop(); stopErr != nil {
				s.logger.Warn().Err(stopErr).Msg("Teardown after failed start")
			}
		}
	}()

	dataDir := filepath.Join(s.cfg.DataDir, "scheduler")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	s.scheduler = s.newProcess("scheduler",
		"scheduler",
		"--data-dir="+dataDir,
		"--api-addr="+s.cfg.APIAddr,
		"--health-addr="+s.cfg.HealthAddr,
		"--log-level="+s.cfg.LogLevel,
	)
	if err := s.scheduler.Start(); err != nil {
		return err
	}
	s.logger.Info().Int("pid", s.scheduler.PID()).Str("api_addr", s.cfg.APIAddr).Msg("Scheduler started")

	if err := s.waitForAPI(ctx); err != nil {
		return err
	}

	for i := 0; i < s.cfg.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i+1)
		args := []string{
			"worker",
			"--scheduler=" + s.cfg.APIAddr,
			"--address=" + name,
			"--capacity=" + strconv.Itoa(s.cfg.Capacity),
			"--log-level=" + s.cfg.LogLevel,
		}
		if s.cfg.Engine != "" {
			args = append(args, "--engine="+s.cfg.Engine)
		}
		if s.cfg.DSN != "" {
			args = append(args, "--dsn="+s.cfg.DSN)
		}

		p := s.newProcess(name, args...)
		if err := p.Start(); err != nil {
			return err
		}
		s.workers = append(s.workers, p)
		s.logger.Info().Int("pid", p.PID()).Str("worker", name).Msg("Worker started")
	}

	return s.waitForWorkers(ctx)
}

// Wait blocks until ctx ends or a child process exits on its own
func (s *Supervisor) Wait(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.processes() {
		g.Go(func() error {
			select {
			case <-p.Exited():
				return fmt.Errorf("%s exited unexpectedly: %v", p.Name, p.Err())
			case <-gctx.Done():
				return nil
			}
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop stops the workers in parallel, then the scheduler
func (s *Supervisor) Stop() error {
	var errs []error

	var g errgroup.Group
	for _, p := range s.workers {
		g.Go(func() error {
			return p.Stop(s.cfg.StopTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if s.scheduler != nil {
		if err := s.scheduler.Stop(s.cfg.StopTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info().Int("workers", len(s.workers)).Msg("Cluster stopped")
	return errors.Join(errs...)
}

func (s *Supervisor) newProcess(name string, args ...string) *Process {
	p := NewProcess(name, s.cfg.Binary, append(append([]string{}, s.cfg.BaseArgs...), args...)...)
	p.Env = s.cfg.Env
	p.Output = s.cfg.Output
	return p
}

func (s *Supervisor) processes() []*Process {
	var all []*Process
	if s.scheduler != nil {
		all = append(all, s.scheduler)
	}
	return append(all, s.workers...)
}

func (s *Supervisor) waitForAPI(ctx context.Context) error {
	return s.waiter.WaitFor(ctx, func(ctx context.Context) bool {
		if !s.scheduler.IsRunning() {
			return false
		}
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err := s.client.GetClusterStatus(cctx)
		return err == nil
	}, "scheduler API at "+s.cfg.APIAddr)
}

func (s *Supervisor) waitForWorkers(ctx context.Context) error {
	return s.waiter.WaitFor(ctx, func(ctx context.Context) bool {
		cctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		status, err := s.client.GetClusterStatus(cctx)
		if err != nil {
			return false
		}
		live := 0
		for _, w := range status.Workers {
			if w.Status != types.WorkerStatusOffline {
				live++
			}
		}
		return live >= s.cfg.Workers
	}, fmt.Sprintf("%d workers to register", s.cfg.Workers))
}
