package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	v1 "github.com/tuskdata/tusk/api/v1"
	"github.com/tuskdata/tusk/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DefaultTimeout bounds unary calls whose context carries no deadline
const DefaultTimeout = 10 * time.Second

// Client wraps the Scheduler gRPC client for the CLI and the worker runtime
type Client struct {
	conn    *grpc.ClientConn
	client  v1.SchedulerClient
	timeout time.Duration
}

// NewClient connects to a scheduler. addr is host:port or unix:///path/to/socket.
// Extra dial options are appended after the default insecure transport credentials.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to scheduler %s: %w", addr, err)
	}

	return &Client{
		conn:    conn,
		client:  v1.NewSchedulerClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) unaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// SubmitJob enqueues a query and returns the pending job
func (c *Client) SubmitJob(ctx context.Context, query types.QuerySpec, principal string) (*types.Job, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.SubmitJob(ctx, &v1.SubmitJobRequest{Query: query, Principal: principal})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Job, nil
}

// GetJob gets a job by id
func (c *Client) GetJob(ctx context.Context, id string) (*types.Job, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.GetJob(ctx, &v1.GetJobRequest{JobID: id})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Job, nil
}

// CancelJob cancels a job
func (c *Client) CancelJob(ctx context.Context, id string) (*types.Job, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.CancelJob(ctx, &v1.CancelJobRequest{JobID: id})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Job, nil
}

// ListJobs lists jobs newest first
func (c *Client) ListJobs(ctx context.Context, filter types.JobFilter) ([]*types.Job, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.ListJobs(ctx, &v1.ListJobsRequest{
		Status: filter.Status,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Jobs, nil
}

// GetClusterStatus returns workers and active jobs
func (c *Client) GetClusterStatus(ctx context.Context) (*types.ClusterStatus, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.GetClusterStatus(ctx, &v1.GetClusterStatusRequest{})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Status, nil
}

// FetchResult streams the result batches of a completed job to fn
func (c *Client) FetchResult(ctx context.Context, id string, fn func(*types.Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.FetchResult(ctx, &v1.FetchResultRequest{JobID: id})
	if err != nil {
		return fromStatus(err)
	}
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fromStatus(err)
		}
		if err := fn(msg.Batch); err != nil {
			return err
		}
	}
}

// WatchJob calls fn with every job snapshot until the job is terminal or ctx ends
func (c *Client) WatchJob(ctx context.Context, id string, fn func(*types.Job) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.WatchJob(ctx, &v1.WatchJobRequest{JobID: id})
	if err != nil {
		return fromStatus(err)
	}
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fromStatus(err)
		}
		if err := fn(msg.Job); err != nil {
			return err
		}
	}
}

// RegisterWorker registers a worker and returns its new identity
func (c *Client) RegisterWorker(ctx context.Context, address string, capacity int, engine string) (*types.Worker, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.RegisterWorker(ctx, &v1.RegisterWorkerRequest{
		Address:  address,
		Capacity: capacity,
		Engine:   engine,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Worker, nil
}

// Heartbeat sends one heartbeat and returns the worker's queued commands
func (c *Client) Heartbeat(ctx context.Context, workerID string, metrics types.HealthMetrics, running []string) ([]types.Command, error) {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	resp, err := c.client.Heartbeat(ctx, &v1.HeartbeatRequest{
		WorkerID: workerID,
		Metrics:  metrics,
		Running:  running,
	})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp.Commands, nil
}

// Session is an open Connect stream. Send and Recv may be used from different goroutines,
// but each from only one.
type Session struct {
	stream v1.Scheduler_ConnectClient
}

// Connect opens a worker session
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	stream, err := c.client.Connect(ctx)
	if err != nil {
		return nil, fromStatus(err)
	}
	return &Session{stream: stream}, nil
}

// Send sends a heartbeat on the session
func (s *Session) Send(workerID string, metrics types.HealthMetrics, running []string) error {
	err := s.stream.Send(&v1.HeartbeatRequest{
		WorkerID: workerID,
		Metrics:  metrics,
		Running:  running,
	})
	if err == io.EOF {
		// the real cause is delivered by Recv
		return err
	}
	return fromStatus(err)
}

// Recv waits for the next batch of commands
func (s *Session) Recv() ([]types.Command, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fromStatus(err)
	}
	return resp.Commands, nil
}

// CloseSend half-closes the session
func (s *Session) CloseSend() error {
	return s.stream.CloseSend()
}

// ReportProgress reports a stage fraction for a job
func (c *Client) ReportProgress(ctx context.Context, workerID, jobID, stage string, fraction float64) error {
	ctx, cancel := c.unaryContext(ctx)
	defer cancel()

	_, err := c.client.ReportProgress(ctx, &v1.ReportProgressRequest{
		WorkerID: workerID,
		JobID:    jobID,
		Stage:    stage,
		Fraction: fraction,
	})
	return fromStatus(err)
}

// ReportCompletion streams a job's result batches to the scheduler. A non-empty execErr
// reports an execution failure instead and no batches are sent.
func (c *Client) ReportCompletion(ctx context.Context, workerID, jobID string, batches []*types.Batch, execErr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.ReportCompletion(ctx)
	if err != nil {
		return fromStatus(err)
	}

	first := &v1.CompletionChunk{WorkerID: workerID, JobID: jobID, Error: execErr}
	if execErr == "" && len(batches) > 0 {
		first.Batch = batches[0]
		batches = batches[1:]
	} else {
		batches = nil
	}
	if err := stream.Send(first); err != nil && err != io.EOF {
		return fromStatus(err)
	}
	for _, b := range batches {
		if err := stream.Send(&v1.CompletionChunk{Batch: b}); err != nil {
			if err == io.EOF {
				// the server ended the stream early; CloseAndRecv carries its status
				break
			}
			return fromStatus(err)
		}
	}

	_, err = stream.CloseAndRecv()
	return fromStatus(err)
}

// rpcError keeps the gRPC status while unwrapping to the matching sentinel
type rpcError struct {
	st       *status.Status
	sentinel error
}

func (e *rpcError) Error() string {
	return e.st.Message()
}

func (e *rpcError) Unwrap() []error {
	return []error{e.sentinel, e.st.Err()}
}

// GRPCStatus lets status.FromError and status.Code see through the wrapper
func (e *rpcError) GRPCStatus() *status.Status {
	return e.st
}

// fromStatus maps a gRPC status back onto the error taxonomy so callers can use errors.Is
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	msg := st.Message()
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = types.ErrValidation
	case codes.NotFound:
		sentinel = types.ErrNotFound
		if strings.Contains(msg, types.ErrUnknownWorker.Error()) {
			sentinel = types.ErrUnknownWorker
		}
	case codes.FailedPrecondition:
		sentinel = types.ErrInvalidTransition
		if strings.Contains(msg, types.ErrInvalidState.Error()) {
			sentinel = types.ErrInvalidState
		}
	case codes.ResourceExhausted:
		if strings.Contains(msg, types.ErrCapacityExceeded.Error()) {
			sentinel = types.ErrCapacityExceeded
		}
	case codes.Unavailable:
		if strings.Contains(msg, types.ErrWorkerUnavailable.Error()) {
			sentinel = types.ErrWorkerUnavailable
		}
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	}
	if sentinel == nil {
		return err
	}
	return &rpcError{st: st, sentinel: sentinel}
}

// IsUnavailable reports whether err means the scheduler could not be reached
func IsUnavailable(err error) bool {
	if errors.Is(err, types.ErrWorkerUnavailable) {
		return false
	}
	return status.Code(err) == codes.Unavailable
}
