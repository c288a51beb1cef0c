package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"
	v1 "github.com/tuskdata/tusk/api/v1"
	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/manager"
	"github.com/tuskdata/tusk/pkg/metrics"
	"github.com/tuskdata/tusk/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config holds API server options
type Config struct {
	// SubmitRate is the SubmitJob rate per client address per second; zero disables the limit
	SubmitRate  float64
	SubmitBurst int
}

// Server implements the Scheduler gRPC service on top of a Manager
type Server struct {
	v1.UnimplementedSchedulerServer
	manager *manager.Manager
	grpc    *grpc.Server
	unix    *grpc.Server
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager, cfg Config) *Server {
	s := &Server{
		manager: mgr,
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(
				MetricsInterceptor(),
				SubmitRateLimitInterceptor(cfg.SubmitRate, cfg.SubmitBurst),
			),
			grpc.ChainStreamInterceptor(StreamMetricsInterceptor()),
		),
		logger: log.WithComponent("api"),
	}
	v1.RegisterSchedulerServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop is called
func (s *Server) Serve(lis net.Listener) error {
	metrics.UpdateComponent(metrics.ComponentAPI, true, "")
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves the full API
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// StartUnix serves the read-only subset of the API on a unix socket
func (s *Server) StartUnix(path string) error {
	_ = os.Remove(path)
	lis, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("failed to listen on unix socket: %w", err)
	}
	if err := os.Chmod(path, 0660); err != nil {
		lis.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.unix = grpc.NewServer(
		grpc.ChainUnaryInterceptor(MetricsInterceptor(), ReadOnlyInterceptor()),
		grpc.ChainStreamInterceptor(StreamMetricsInterceptor(), StreamReadOnlyInterceptor()),
	)
	v1.RegisterSchedulerServer(s.unix, s)

	s.logger.Info().Str("path", path).Msg("Read-only API listening on unix socket")
	return s.unix.Serve(lis)
}

// Stop gracefully stops the gRPC servers
func (s *Server) Stop() {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "stopped")
	if s.unix != nil {
		s.unix.GracefulStop()
	}
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// toStatus maps the error taxonomy onto gRPC status codes
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, types.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrUnknownWorker):
		code = codes.NotFound
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, types.ErrInvalidState):
		code = codes.FailedPrecondition
	case errors.Is(err, types.ErrCapacityExceeded):
		code = codes.ResourceExhausted
	case errors.Is(err, types.ErrWorkerUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

func requireJobID(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "job_id is required")
	}
	return nil
}

func requireWorkerID(id string) error {
	if id == "" {
		return status.Error(codes.InvalidArgument, "worker_id is required")
	}
	return nil
}

// SubmitJob validates and enqueues a query
func (s *Server) SubmitJob(ctx context.Context, req *v1.SubmitJobRequest) (*v1.SubmitJobResponse, error) {
	job, err := s.manager.SubmitJob(req.Query, req.Principal)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.SubmitJobResponse{Job: job}, nil
}

// GetJob returns a job snapshot
func (s *Server) GetJob(ctx context.Context, req *v1.GetJobRequest) (*v1.GetJobResponse, error) {
	if err := requireJobID(req.JobID); err != nil {
		return nil, err
	}
	job, err := s.manager.GetJob(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.GetJobResponse{Job: job}, nil
}

// CancelJob cancels a job; cancelling a terminal job returns it unchanged
func (s *Server) CancelJob(ctx context.Context, req *v1.CancelJobRequest) (*v1.CancelJobResponse, error) {
	if err := requireJobID(req.JobID); err != nil {
		return nil, err
	}
	job, err := s.manager.CancelJob(req.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.CancelJobResponse{Job: job}, nil
}

// ListJobs returns jobs newest first
func (s *Server) ListJobs(ctx context.Context, req *v1.ListJobsRequest) (*v1.ListJobsResponse, error) {
	if req.Limit < 0 || req.Offset < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}
	jobs, err := s.manager.ListJobs(types.JobFilter{
		Status: req.Status,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.ListJobsResponse{Jobs: jobs}, nil
}

// GetClusterStatus returns the registry and active job projection
func (s *Server) GetClusterStatus(ctx context.Context, req *v1.GetClusterStatusRequest) (*v1.GetClusterStatusResponse, error) {
	cs, err := s.manager.GetClusterStatus()
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.GetClusterStatusResponse{Status: cs}, nil
}

// FetchResult streams the batches of a completed job
func (s *Server) FetchResult(req *v1.FetchResultRequest, stream v1.Scheduler_FetchResultServer) error {
	if err := requireJobID(req.JobID); err != nil {
		return err
	}
	err := s.manager.FetchResult(stream.Context(), req.JobID, func(b *types.Batch) error {
		return stream.Send(&v1.ResultBatch{Batch: b})
	})
	return toStatus(err)
}

// WatchJob streams job snapshots until the job is terminal
func (s *Server) WatchJob(req *v1.WatchJobRequest, stream v1.Scheduler_WatchJobServer) error {
	if err := requireJobID(req.JobID); err != nil {
		return err
	}
	err := s.manager.WatchJob(stream.Context(), req.JobID, func(job *types.Job) error {
		return stream.Send(&v1.JobUpdate{Job: job})
	})
	return toStatus(err)
}

// RegisterWorker issues a new worker identity
func (s *Server) RegisterWorker(ctx context.Context, req *v1.RegisterWorkerRequest) (*v1.RegisterWorkerResponse, error) {
	w, err := s.manager.RegisterWorker(req.Address, req.Capacity, req.Engine)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.RegisterWorkerResponse{Worker: w}, nil
}

// Heartbeat refreshes a worker and returns its queued commands
func (s *Server) Heartbeat(ctx context.Context, req *v1.HeartbeatRequest) (*v1.HeartbeatResponse, error) {
	if err := requireWorkerID(req.WorkerID); err != nil {
		return nil, err
	}
	cmds, err := s.manager.Heartbeat(req.WorkerID, req.Metrics, req.Running)
	if err != nil {
		return nil, toStatus(err)
	}
	return &v1.HeartbeatResponse{Commands: cmds}, nil
}

// ReportProgress records a stage fraction
func (s *Server) ReportProgress(ctx context.Context, req *v1.ReportProgressRequest) (*v1.ReportProgressResponse, error) {
	if err := requireWorkerID(req.WorkerID); err != nil {
		return nil, err
	}
	if err := requireJobID(req.JobID); err != nil {
		return nil, err
	}
	if err := s.manager.ReportProgress(req.WorkerID, req.JobID, req.Stage, req.Fraction); err != nil {
		return nil, toStatus(err)
	}
	return &v1.ReportProgressResponse{}, nil
}

// ReportCompletion receives a job's result batches, or its failure, and records the outcome
func (s *Server) ReportCompletion(stream v1.Scheduler_ReportCompletionServer) error {
	var (
		workerID string
		jobID    string
		execErr  string
		batches  []*types.Batch
	)
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if workerID == "" {
			workerID = chunk.WorkerID
		}
		if jobID == "" {
			jobID = chunk.JobID
		}
		if chunk.Error != "" {
			execErr = chunk.Error
		}
		if chunk.Batch != nil {
			batches = append(batches, chunk.Batch)
		}
	}

	if err := requireWorkerID(workerID); err != nil {
		return err
	}
	if err := requireJobID(jobID); err != nil {
		return err
	}
	if execErr != "" {
		batches = nil
	}

	if err := s.manager.ReportCompletion(stream.Context(), workerID, jobID, batches, execErr); err != nil {
		return toStatus(err)
	}
	return stream.SendAndClose(&v1.ReportCompletionResponse{Batches: len(batches)})
}

// Connect runs a worker session. The first message identifies the worker; every later
// message is a heartbeat answered with the worker's queued commands. Commands queued
// between heartbeats are pushed as soon as they are enqueued. Only this goroutine sends.
func (s *Server) Connect(stream v1.Scheduler_ConnectServer) error {
	ctx := stream.Context()

	first, err := stream.Recv()
	if err != nil {
		return err
	}
	workerID := first.WorkerID
	if err := requireWorkerID(workerID); err != nil {
		return err
	}
	notify, err := s.manager.WorkerNotify(workerID)
	if err != nil {
		return toStatus(err)
	}

	logger := log.WithWorkerID(workerID)
	logger.Debug().Msg("Worker session opened")
	defer logger.Debug().Msg("Worker session closed")

	heartbeats := make(chan *v1.HeartbeatRequest)
	recvErr := make(chan error, 1)
	go func() {
		for {
			req, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case heartbeats <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	heartbeat := func(req *v1.HeartbeatRequest) error {
		if req.WorkerID != "" && req.WorkerID != workerID {
			return status.Errorf(codes.InvalidArgument, "session belongs to worker %s", workerID)
		}
		cmds, err := s.manager.Heartbeat(workerID, req.Metrics, req.Running)
		if err != nil {
			return toStatus(err)
		}
		return stream.Send(&v1.HeartbeatResponse{Commands: cmds})
	}

	if err := heartbeat(first); err != nil {
		return err
	}

	for {
		select {
		case req := <-heartbeats:
			if err := heartbeat(req); err != nil {
				return err
			}
		case <-notify:
			cmds, err := s.manager.PendingCommands(workerID)
			if err != nil {
				return toStatus(err)
			}
			if len(cmds) == 0 {
				continue
			}
			if err := stream.Send(&v1.HeartbeatResponse{Commands: cmds}); err != nil {
				return err
			}
		case err := <-recvErr:
			if err == io.EOF {
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
