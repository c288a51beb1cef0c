package v1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "tusk.v1.Scheduler"

const (
	Scheduler_SubmitJob_FullMethodName        = "/tusk.v1.Scheduler/SubmitJob"
	Scheduler_GetJob_FullMethodName           = "/tusk.v1.Scheduler/GetJob"
	Scheduler_CancelJob_FullMethodName        = "/tusk.v1.Scheduler/CancelJob"
	Scheduler_ListJobs_FullMethodName         = "/tusk.v1.Scheduler/ListJobs"
	Scheduler_GetClusterStatus_FullMethodName = "/tusk.v1.Scheduler/GetClusterStatus"
	Scheduler_FetchResult_FullMethodName      = "/tusk.v1.Scheduler/FetchResult"
	Scheduler_WatchJob_FullMethodName         = "/tusk.v1.Scheduler/WatchJob"
	Scheduler_RegisterWorker_FullMethodName   = "/tusk.v1.Scheduler/RegisterWorker"
	Scheduler_Heartbeat_FullMethodName        = "/tusk.v1.Scheduler/Heartbeat"
	Scheduler_Connect_FullMethodName          = "/tusk.v1.Scheduler/Connect"
	Scheduler_ReportProgress_FullMethodName   = "/tusk.v1.Scheduler/ReportProgress"
	Scheduler_ReportCompletion_FullMethodName = "/tusk.v1.Scheduler/ReportCompletion"
)

// SchedulerServer is the server API for the Scheduler service
type SchedulerServer interface {
	// Client surface
	SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error)
	GetJob(context.Context, *GetJobRequest) (*GetJobResponse, error)
	CancelJob(context.Context, *CancelJobRequest) (*CancelJobResponse, error)
	ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error)
	GetClusterStatus(context.Context, *GetClusterStatusRequest) (*GetClusterStatusResponse, error)
	FetchResult(*FetchResultRequest, Scheduler_FetchResultServer) error
	WatchJob(*WatchJobRequest, Scheduler_WatchJobServer) error

	// Worker surface
	RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	Connect(Scheduler_ConnectServer) error
	ReportProgress(context.Context, *ReportProgressRequest) (*ReportProgressResponse, error)
	ReportCompletion(Scheduler_ReportCompletionServer) error
}

// UnimplementedSchedulerServer returns Unimplemented for every method
type UnimplementedSchedulerServer struct{}

func (UnimplementedSchedulerServer) SubmitJob(context.Context, *SubmitJobRequest) (*SubmitJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SubmitJob not implemented")
}
func (UnimplementedSchedulerServer) GetJob(context.Context, *GetJobRequest) (*GetJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetJob not implemented")
}
func (UnimplementedSchedulerServer) CancelJob(context.Context, *CancelJobRequest) (*CancelJobResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CancelJob not implemented")
}
func (UnimplementedSchedulerServer) ListJobs(context.Context, *ListJobsRequest) (*ListJobsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListJobs not implemented")
}
func (UnimplementedSchedulerServer) GetClusterStatus(context.Context, *GetClusterStatusRequest) (*GetClusterStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetClusterStatus not implemented")
}
func (UnimplementedSchedulerServer) FetchResult(*FetchResultRequest, Scheduler_FetchResultServer) error {
	return status.Error(codes.Unimplemented, "method FetchResult not implemented")
}
func (UnimplementedSchedulerServer) WatchJob(*WatchJobRequest, Scheduler_WatchJobServer) error {
	return status.Error(codes.Unimplemented, "method WatchJob not implemented")
}
func (UnimplementedSchedulerServer) RegisterWorker(context.Context, *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RegisterWorker not implemented")
}
func (UnimplementedSchedulerServer) Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Heartbeat not implemented")
}
func (UnimplementedSchedulerServer) Connect(Scheduler_ConnectServer) error {
	return status.Error(codes.Unimplemented, "method Connect not implemented")
}
func (UnimplementedSchedulerServer) ReportProgress(context.Context, *ReportProgressRequest) (*ReportProgressResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReportProgress not implemented")
}
func (UnimplementedSchedulerServer) ReportCompletion(Scheduler_ReportCompletionServer) error {
	return status.Error(codes.Unimplemented, "method ReportCompletion not implemented")
}

// RegisterSchedulerServer registers srv on s
func RegisterSchedulerServer(s grpc.ServiceRegistrar, srv SchedulerServer) {
	s.RegisterService(&Scheduler_ServiceDesc, srv)
}

// unaryHandler adapts a typed server method to a grpc method handler
func unaryHandler[Req any, Resp any](fullMethod string, call func(SchedulerServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SchedulerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SchedulerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server-side streams

type Scheduler_FetchResultServer interface {
	Send(*ResultBatch) error
	grpc.ServerStream
}

type schedulerFetchResultServer struct {
	grpc.ServerStream
}

func (x *schedulerFetchResultServer) Send(m *ResultBatch) error {
	return x.ServerStream.SendMsg(m)
}

func _Scheduler_FetchResult_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(FetchResultRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SchedulerServer).FetchResult(m, &schedulerFetchResultServer{stream})
}

type Scheduler_WatchJobServer interface {
	Send(*JobUpdate) error
	grpc.ServerStream
}

type schedulerWatchJobServer struct {
	grpc.ServerStream
}

func (x *schedulerWatchJobServer) Send(m *JobUpdate) error {
	return x.ServerStream.SendMsg(m)
}

func _Scheduler_WatchJob_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(WatchJobRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SchedulerServer).WatchJob(m, &schedulerWatchJobServer{stream})
}

type Scheduler_ConnectServer interface {
	Send(*HeartbeatResponse) error
	Recv() (*HeartbeatRequest, error)
	grpc.ServerStream
}

type schedulerConnectServer struct {
	grpc.ServerStream
}

func (x *schedulerConnectServer) Send(m *HeartbeatResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *schedulerConnectServer) Recv() (*HeartbeatRequest, error) {
	m := new(HeartbeatRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Scheduler_Connect_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SchedulerServer).Connect(&schedulerConnectServer{stream})
}

type Scheduler_ReportCompletionServer interface {
	SendAndClose(*ReportCompletionResponse) error
	Recv() (*CompletionChunk, error)
	grpc.ServerStream
}

type schedulerReportCompletionServer struct {
	grpc.ServerStream
}

func (x *schedulerReportCompletionServer) SendAndClose(m *ReportCompletionResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *schedulerReportCompletionServer) Recv() (*CompletionChunk, error) {
	m := new(CompletionChunk)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Scheduler_ReportCompletion_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SchedulerServer).ReportCompletion(&schedulerReportCompletionServer{stream})
}

// Scheduler_ServiceDesc is the grpc.ServiceDesc for the Scheduler service
var Scheduler_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SchedulerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SubmitJob",
			Handler: unaryHandler(Scheduler_SubmitJob_FullMethodName, func(s SchedulerServer, ctx context.Context, in *SubmitJobRequest) (*SubmitJobResponse, error) {
				return s.SubmitJob(ctx, in)
			}),
		},
		{
			MethodName: "GetJob",
			Handler: unaryHandler(Scheduler_GetJob_FullMethodName, func(s SchedulerServer, ctx context.Context, in *GetJobRequest) (*GetJobResponse, error) {
				return s.GetJob(ctx, in)
			}),
		},
		{
			MethodName: "CancelJob",
			Handler: unaryHandler(Scheduler_CancelJob_FullMethodName, func(s SchedulerServer, ctx context.Context, in *CancelJobRequest) (*CancelJobResponse, error) {
				return s.CancelJob(ctx, in)
			}),
		},
		{
			MethodName: "ListJobs",
			Handler: unaryHandler(Scheduler_ListJobs_FullMethodName, func(s SchedulerServer, ctx context.Context, in *ListJobsRequest) (*ListJobsResponse, error) {
				return s.ListJobs(ctx, in)
			}),
		},
		{
			MethodName: "GetClusterStatus",
			Handler: unaryHandler(Scheduler_GetClusterStatus_FullMethodName, func(s SchedulerServer, ctx context.Context, in *GetClusterStatusRequest) (*GetClusterStatusResponse, error) {
				return s.GetClusterStatus(ctx, in)
			}),
		},
		{
			MethodName: "RegisterWorker",
			Handler: unaryHandler(Scheduler_RegisterWorker_FullMethodName, func(s SchedulerServer, ctx context.Context, in *RegisterWorkerRequest) (*RegisterWorkerResponse, error) {
				return s.RegisterWorker(ctx, in)
			}),
		},
		{
			MethodName: "Heartbeat",
			Handler: unaryHandler(Scheduler_Heartbeat_FullMethodName, func(s SchedulerServer, ctx context.Context, in *HeartbeatRequest) (*HeartbeatResponse, error) {
				return s.Heartbeat(ctx, in)
			}),
		},
		{
			MethodName: "ReportProgress",
			Handler: unaryHandler(Scheduler_ReportProgress_FullMethodName, func(s SchedulerServer, ctx context.Context, in *ReportProgressRequest) (*ReportProgressResponse, error) {
				return s.ReportProgress(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "FetchResult",
			Handler:       _Scheduler_FetchResult_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "WatchJob",
			Handler:       _Scheduler_WatchJob_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "Connect",
			Handler:       _Scheduler_Connect_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
		{
			StreamName:    "ReportCompletion",
			Handler:       _Scheduler_ReportCompletion_Handler,
			ClientStreams: true,
		},
	},
	Metadata: "tusk/v1/scheduler",
}

// SchedulerClient is the client API for the Scheduler service
type SchedulerClient interface {
	SubmitJob(ctx context.Context, in *SubmitJobRequest, opts ...grpc.CallOption) (*SubmitJobResponse, error)
	GetJob(ctx context.Context, in *GetJobRequest, opts ...grpc.CallOption) (*GetJobResponse, error)
	CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*CancelJobResponse, error)
	ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error)
	GetClusterStatus(ctx context.Context, in *GetClusterStatusRequest, opts ...grpc.CallOption) (*GetClusterStatusResponse, error)
	FetchResult(ctx context.Context, in *FetchResultRequest, opts ...grpc.CallOption) (Scheduler_FetchResultClient, error)
	WatchJob(ctx context.Context, in *WatchJobRequest, opts ...grpc.CallOption) (Scheduler_WatchJobClient, error)
	RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error)
	Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error)
	Connect(ctx context.Context, opts ...grpc.CallOption) (Scheduler_ConnectClient, error)
	ReportProgress(ctx context.Context, in *ReportProgressRequest, opts ...grpc.CallOption) (*ReportProgressResponse, error)
	ReportCompletion(ctx context.Context, opts ...grpc.CallOption) (Scheduler_ReportCompletionClient, error)
}

type schedulerClient struct {
	cc grpc.ClientConnInterface
}

// NewSchedulerClient returns a client that speaks the json codec on cc
func NewSchedulerClient(cc grpc.ClientConnInterface) SchedulerClient {
	return &schedulerClient{cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *schedulerClient) SubmitJob(ctx context.Context, in *SubmitJobRequest, opts ...grpc.CallOption) (*SubmitJobResponse, error) {
	out := new(SubmitJobResponse)
	if err := c.cc.Invoke(ctx, Scheduler_SubmitJob_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) GetJob(ctx context.Context, in *GetJobRequest, opts ...grpc.CallOption) (*GetJobResponse, error) {
	out := new(GetJobResponse)
	if err := c.cc.Invoke(ctx, Scheduler_GetJob_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) CancelJob(ctx context.Context, in *CancelJobRequest, opts ...grpc.CallOption) (*CancelJobResponse, error) {
	out := new(CancelJobResponse)
	if err := c.cc.Invoke(ctx, Scheduler_CancelJob_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) ListJobs(ctx context.Context, in *ListJobsRequest, opts ...grpc.CallOption) (*ListJobsResponse, error) {
	out := new(ListJobsResponse)
	if err := c.cc.Invoke(ctx, Scheduler_ListJobs_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) GetClusterStatus(ctx context.Context, in *GetClusterStatusRequest, opts ...grpc.CallOption) (*GetClusterStatusResponse, error) {
	out := new(GetClusterStatusResponse)
	if err := c.cc.Invoke(ctx, Scheduler_GetClusterStatus_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) RegisterWorker(ctx context.Context, in *RegisterWorkerRequest, opts ...grpc.CallOption) (*RegisterWorkerResponse, error) {
	out := new(RegisterWorkerResponse)
	if err := c.cc.Invoke(ctx, Scheduler_RegisterWorker_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	out := new(HeartbeatResponse)
	if err := c.cc.Invoke(ctx, Scheduler_Heartbeat_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *schedulerClient) ReportProgress(ctx context.Context, in *ReportProgressRequest, opts ...grpc.CallOption) (*ReportProgressResponse, error) {
	out := new(ReportProgressResponse)
	if err := c.cc.Invoke(ctx, Scheduler_ReportProgress_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// Client-side streams

type Scheduler_FetchResultClient interface {
	Recv() (*ResultBatch, error)
	grpc.ClientStream
}

type schedulerFetchResultClient struct {
	grpc.ClientStream
}

func (x *schedulerFetchResultClient) Recv() (*ResultBatch, error) {
	m := new(ResultBatch)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *schedulerClient) FetchResult(ctx context.Context, in *FetchResultRequest, opts ...grpc.CallOption) (Scheduler_FetchResultClient, error) {
	stream, err := c.cc.NewStream(ctx, &Scheduler_ServiceDesc.Streams[0], Scheduler_FetchResult_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &schedulerFetchResultClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Scheduler_WatchJobClient interface {
	Recv() (*JobUpdate, error)
	grpc.ClientStream
}

type schedulerWatchJobClient struct {
	grpc.ClientStream
}

func (x *schedulerWatchJobClient) Recv() (*JobUpdate, error) {
	m := new(JobUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *schedulerClient) WatchJob(ctx context.Context, in *WatchJobRequest, opts ...grpc.CallOption) (Scheduler_WatchJobClient, error) {
	stream, err := c.cc.NewStream(ctx, &Scheduler_ServiceDesc.Streams[1], Scheduler_WatchJob_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &schedulerWatchJobClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type Scheduler_ConnectClient interface {
	Send(*HeartbeatRequest) error
	Recv() (*HeartbeatResponse, error)
	grpc.ClientStream
}

type schedulerConnectClient struct {
	grpc.ClientStream
}

func (x *schedulerConnectClient) Send(m *HeartbeatRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *schedulerConnectClient) Recv() (*HeartbeatResponse, error) {
	m := new(HeartbeatResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *schedulerClient) Connect(ctx context.Context, opts ...grpc.CallOption) (Scheduler_ConnectClient, error) {
	stream, err := c.cc.NewStream(ctx, &Scheduler_ServiceDesc.Streams[2], Scheduler_Connect_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &schedulerConnectClient{stream}, nil
}

type Scheduler_ReportCompletionClient interface {
	Send(*CompletionChunk) error
	CloseAndRecv() (*ReportCompletionResponse, error)
	grpc.ClientStream
}

type schedulerReportCompletionClient struct {
	grpc.ClientStream
}

func (x *schedulerReportCompletionClient) Send(m *CompletionChunk) error {
	return x.ClientStream.SendMsg(m)
}

func (x *schedulerReportCompletionClient) CloseAndRecv() (*ReportCompletionResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(ReportCompletionResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *schedulerClient) ReportCompletion(ctx context.Context, opts ...grpc.CallOption) (Scheduler_ReportCompletionClient, error) {
	stream, err := c.cc.NewStream(ctx, &Scheduler_ServiceDesc.Streams[3], Scheduler_ReportCompletion_FullMethodName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &schedulerReportCompletionClient{stream}, nil
}
