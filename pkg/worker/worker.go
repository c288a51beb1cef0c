package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/rs/zerolog"
	"github.com/tuskdata/tusk/pkg/client"
	"github.com/tuskdata/tusk/pkg/engine"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/types"
	"google.golang.org/grpc"
)

// Progress stages reported for every job
const (
	StagePrepare = "prepare"
	StageExecute = "execute"
	StageDeliver = "deliver"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultReconnectBackoff  = time.Second
	maxReconnectBackoff      = 30 * time.Second
	progressInterval         = 500 * time.Millisecond
	reportAttempts           = 3
)

// Worker runs queries handed out by the scheduler
type Worker struct {
	cfg    Config
	client *client.Client
	engine engine.Engine
	health *HealthMonitor
	logger zerolog.Logger

	idMu sync.RWMutex
	id   string

	jobs   map[string]*execution
	jobsMu sync.Mutex
	jobsWG sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	doneCh  chan struct{}
}

// execution is one job running on this worker
type execution struct {
	workerID string
	cancel   context.CancelFunc
	// aborted executions were orphaned by a lost identity and report nothing
	aborted bool
}

// Config holds worker configuration
type Config struct {
	// SchedulerAddr is the scheduler's gRPC address
	SchedulerAddr string
	// Address is the address advertised at registration; defaults to the hostname
	Address string
	// Capacity is the number of jobs run at once
	Capacity int
	// Engine names the query engine, see engine.Names
	Engine       string
	EngineConfig engine.Config

	HeartbeatInterval time.Duration
	ReconnectBackoff  time.Duration

	// DialOptions are appended to the client's defaults
	DialOptions []grpc.DialOption
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	c := *cfg
	if c.Capacity < 1 {
		return nil, fmt.Errorf("worker capacity must be at least 1, got %d: %w", c.Capacity, types.ErrValidation)
	}
	if c.SchedulerAddr == "" {
		return nil, fmt.Errorf("scheduler address is required: %w", types.ErrValidation)
	}
	if c.Address == "" {
		addr, err := defaultAddress()
		if err != nil {
			return nil, err
		}
		c.Address = addr
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = defaultReconnectBackoff
	}

	eng, err := engine.New(c.Engine, c.EngineConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}

	cl, err := client.NewClient(c.SchedulerAddr, c.DialOptions...)
	if err != nil {
		eng.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:    c,
		client: cl,
		engine: eng,
		health: NewHealthMonitor(c.HeartbeatInterval),
		logger: log.WithComponent("worker"),
		jobs:   make(map[string]*execution),
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}, nil
}

// ID returns the identity the scheduler currently knows this worker by
func (w *Worker) ID() string {
	w.idMu.RLock()
	defer w.idMu.RUnlock()
	return w.id
}

// Start registers with the scheduler and starts the session loop. A registration failure
// is returned so misconfiguration surfaces at startup.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.register(ctx); err != nil {
		return err
	}
	w.health.Start()
	w.started = true
	go w.run()
	return nil
}

// Stop cancels running jobs, closes the session and releases the engine
func (w *Worker) Stop() error {
	w.cancel()
	if w.started {
		<-w.doneCh
		w.health.Stop()
	}

	w.abortAll("worker stopping")
	w.jobsWG.Wait()

	var errs []error
	if err := w.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close engine: %w", err))
	}
	if err := w.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close client: %w", err))
	}
	w.logger.Info().Str("worker_id", w.ID()).Msg("Worker stopped")
	return errors.Join(errs...)
}

// Running returns the ids of the jobs executing on this worker, sorted
func (w *Worker) Running() []string {
	w.jobsMu.Lock()
	defer w.jobsMu.Unlock()

	ids := make([]string, 0, len(w.jobs))
	for id, ex := range w.jobs {
		if !ex.aborted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// defaultAddress identifies the process, so workers sharing a host do not
// replace each other's registration
func defaultAddress() (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to resolve hostname: %w", err)
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid()), nil
}

func (w *Worker) register(ctx context.Context) error {
	wk, err := w.client.RegisterWorker(ctx, w.cfg.Address, w.cfg.Capacity, w.engine.Name())
	if err != nil {
		return fmt.Errorf("failed to register with scheduler: %w", err)
	}

	w.idMu.Lock()
	previous := w.id
	w.id = wk.ID
	w.idMu.Unlock()

	ev := w.logger.Info().
		Str("worker_id", wk.ID).
		Str("address", w.cfg.Address).
		Int("capacity", w.cfg.Capacity).
		Str("engine", w.engine.Name())
	if previous != "" {
		ev = ev.Str("previous_id", previous)
	}
	ev.Msg("Registered with scheduler")
	return nil
}

// run keeps a session open until Stop. A rejected identity aborts local work and
// registers again; transport failures reconnect with exponential backoff.
func (w *Worker) run() {
	defer close(w.doneCh)

	backoff := w.cfg.ReconnectBackoff
	for {
		start := time.Now()
		err := w.session()
		if w.ctx.Err() != nil {
			return
		}

		if errors.Is(err, types.ErrUnknownWorker) || errors.Is(err, types.ErrNotFound) {
			w.logger.Warn().Err(err).Str("worker_id", w.ID()).Msg("Scheduler no longer knows this worker, re-registering")
			w.abortAll("worker identity lost")
			if err := w.register(w.ctx); err == nil {
				backoff = w.cfg.ReconnectBackoff
				metrics.WorkerReconnects.Inc()
				continue
			}
			w.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Re-registration failed")
		} else if err != nil {
			w.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Scheduler session ended")
		}

		// a session that lived a while resets the backoff
		if time.Since(start) > maxReconnectBackoff {
			backoff = w.cfg.ReconnectBackoff
		}
		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
		metrics.WorkerReconnects.Inc()
	}
}

// session runs one Connect stream: heartbeats go out on a jittered ticker, commands are
// applied as they arrive.
func (w *Worker) session() error {
	ctx, cancel := context.WithCancel(w.ctx)
	defer cancel()

	s, err := w.client.Connect(ctx)
	if err != nil {
		return err
	}

	cmdCh := make(chan []types.Command)
	recvErr := make(chan error, 1)
	go func() {
		for {
			cmds, err := s.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case cmdCh <- cmds:
			case <-ctx.Done():
				return
			}
		}
	}()

	workerID := w.ID()
	send := func() error {
		return s.Send(workerID, w.health.Latest(), w.Running())
	}
	if err := send(); err != nil && err != io.EOF {
		return err
	}

	ticker := jitterbug.New(w.cfg.HeartbeatInterval, &jitterbug.Norm{Stdev: 30 * time.Millisecond, Mean: 0})
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := send(); err != nil {
				if err == io.EOF {
					// the stream is gone; Recv reports why
					continue
				}
				return err
			}
		case cmds := <-cmdCh:
			for _, cmd := range cmds {
				w.handleCommand(workerID, cmd)
			}
		case err := <-recvErr:
			if err == io.EOF {
				return errors.New("scheduler closed the session")
			}
			return err
		case <-ctx.Done():
			_ = s.CloseSend()
			return nil
		}
	}
}

func (w *Worker) handleCommand(workerID string, cmd types.Command) {
	logger := w.logger.With().Str("job_id", cmd.JobID).Str("command", string(cmd.Type)).Logger()

	switch cmd.Type {
	case types.CommandAssign:
		if cmd.Query == nil {
			logger.Warn().Msg("Assignment without a query, ignoring")
			return
		}
		w.startJob(workerID, cmd.JobID, *cmd.Query)
	case types.CommandCancel:
		w.jobsMu.Lock()
		ex, ok := w.jobs[cmd.JobID]
		w.jobsMu.Unlock()
		if !ok {
			logger.Debug().Msg("Cancel for a job not running here")
			return
		}
		logger.Info().Msg("Cancelling job")
		ex.cancel()
	default:
		logger.Warn().Msg("Unknown command")
	}
}

func (w *Worker) startJob(workerID, jobID string, query types.QuerySpec) {
	w.jobsMu.Lock()
	if prev, ok := w.jobs[jobID]; ok && !prev.aborted {
		w.jobsMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(w.ctx)
	ex := &execution{workerID: workerID, cancel: cancel}
	w.jobs[jobID] = ex
	w.jobsWG.Add(1)
	w.jobsMu.Unlock()

	go func() {
		defer w.jobsWG.Done()
		defer func() {
			w.jobsMu.Lock()
			if w.jobs[jobID] == ex {
				delete(w.jobs, jobID)
			}
			w.jobsMu.Unlock()
			cancel()
		}()
		w.execute(ctx, ex, jobID, query)
	}()
}

// execute runs one job through the engine and delivers its outcome
func (w *Worker) execute(ctx context.Context, ex *execution, jobID string, query types.QuerySpec) {
	logger := log.WithJobID(jobID).With().Str("worker_id", ex.workerID).Logger()
	logger.Info().Str("engine", w.engine.Name()).Msg("Executing job")

	w.progress(ctx, ex, jobID, StagePrepare, 0)
	w.progress(ctx, ex, jobID, StagePrepare, 1)

	var batches []*types.Batch
	emit := func(b *types.Batch) error {
		batches = append(batches, b)
		return nil
	}
	var lastReport time.Time
	progress := func(f float64) {
		if f < 1 && time.Since(lastReport) < progressInterval {
			return
		}
		lastReport = time.Now()
		w.progress(ctx, ex, jobID, StageExecute, f)
	}

	start := time.Now()
	execErr := w.engine.Execute(ctx, query, emit, progress)
	metrics.WorkerExecutionDuration.Observe(time.Since(start).Seconds())

	var outcome, message string
	switch {
	case ctx.Err() != nil:
		outcome, message = "cancelled", "cancelled"
		batches = nil
	case execErr != nil:
		outcome, message = "failed", execErr.Error()
		batches = nil
	default:
		outcome = "completed"
		w.progress(ctx, ex, jobID, StageDeliver, 0)
	}
	metrics.WorkerExecutions.WithLabelValues(outcome).Inc()

	if w.isAborted(ex) || w.ctx.Err() != nil {
		logger.Info().Str("outcome", outcome).Msg("Job abandoned, not reporting")
		return
	}
	if err := w.report(ex.workerID, jobID, batches, message); err != nil {
		logger.Error().Err(err).Msg("Failed to report job completion")
		return
	}
	logger.Info().Str("outcome", outcome).Int("batches", len(batches)).Msg("Job reported")
}

// progress reports a stage fraction. A report rejected because the job moved on stops
// the local execution.
func (w *Worker) progress(ctx context.Context, ex *execution, jobID, stage string, fraction float64) {
	if ctx.Err() != nil {
		return
	}
	err := w.client.ReportProgress(ctx, ex.workerID, jobID, stage, fraction)
	if err == nil {
		return
	}
	if errors.Is(err, types.ErrInvalidTransition) || errors.Is(err, types.ErrUnknownWorker) || errors.Is(err, types.ErrNotFound) {
		w.logger.Info().Err(err).Str("job_id", jobID).Msg("Job no longer assigned here, stopping")
		w.jobsMu.Lock()
		ex.aborted = true
		w.jobsMu.Unlock()
		ex.cancel()
		return
	}
	w.logger.Debug().Err(err).Str("job_id", jobID).Str("stage", stage).Msg("Failed to report progress")
}

// report delivers the outcome, retrying while the scheduler is unreachable
func (w *Worker) report(workerID, jobID string, batches []*types.Batch, execErr string) error {
	backoff := w.cfg.ReconnectBackoff
	var err error
	for attempt := 1; attempt <= reportAttempts; attempt++ {
		err = w.client.ReportCompletion(w.ctx, workerID, jobID, batches, execErr)
		if err == nil || !client.IsUnavailable(err) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-w.ctx.Done():
			return w.ctx.Err()
		}
		backoff *= 2
	}
	return err
}

func (w *Worker) isAborted(ex *execution) bool {
	w.jobsMu.Lock()
	defer w.jobsMu.Unlock()
	return ex.aborted
}

// abortAll cancels every local job without reporting its outcome
func (w *Worker) abortAll(reason string) {
	w.jobsMu.Lock()
	defer w.jobsMu.Unlock()
	for id, ex := range w.jobs {
		if ex.aborted {
			continue
		}
		ex.aborted = true
		ex.cancel()
		w.logger.Info().Str("job_id", id).Str("reason", reason).Msg("Aborting job")
	}
}
