package api

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/tuskdata/tusk/pkg/log"
	"github.com/tuskdata/tusk/pkg/metrics"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// methodName extracts the method from a full path ("/tusk.v1.Scheduler/ListJobs" -> "ListJobs")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}

// MetricsInterceptor records request counts and durations per method and logs failures
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		observe(method, err)
		return resp, err
	}
}

// StreamMetricsInterceptor is MetricsInterceptor for streaming RPCs
func StreamMetricsInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		method := methodName(info.FullMethod)
		timer := metrics.NewTimer()
		err := handler(srv, ss)
		timer.ObserveDurationVec(metrics.APIRequestDuration, method)
		observe(method, err)
		return err
	}
}

func observe(method string, err error) {
	code := status.Code(err)
	metrics.APIRequestsTotal.WithLabelValues(method, code.String()).Inc()

	switch code {
	case codes.OK, codes.Canceled, codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition:
	default:
		log.Logger.Warn().Str("method", method).Str("code", code.String()).Err(err).Msg("RPC failed")
	}
}

// submitLimiter keeps one token bucket per client address
type submitLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newSubmitLimiter(perSecond float64, burst int) *submitLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &submitLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *submitLimiter) allow(client string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[client]
	if !ok {
		// bounded by distinct clients; reset when it grows past a sane size
		if len(l.limiters) > 10000 {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[client] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}

func clientAddr(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
		return host
	}
	return p.Addr.String()
}

// SubmitRateLimitInterceptor limits SubmitJob calls per client address. A non-positive
// rate disables the limit.
func SubmitRateLimitInterceptor(perSecond float64, burst int) grpc.UnaryServerInterceptor {
	if perSecond <= 0 {
		return func(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
			return handler(ctx, req)
		}
	}
	limiter := newSubmitLimiter(perSecond, burst)
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if methodName(info.FullMethod) == "SubmitJob" {
			client := clientAddr(ctx)
			if !limiter.allow(client) {
				log.Logger.Warn().Str("client", client).Msg("Submit rate limit exceeded")
				return nil, status.Error(codes.ResourceExhausted, "submit rate limit exceeded")
			}
		}
		return handler(ctx, req)
	}
}

// ReadOnlyInterceptor creates a gRPC unary interceptor that only allows read-only operations.
// This is used for the Unix socket listener to prevent writes and worker traffic from local tools.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"%s not allowed on the unix socket - use the TCP listener (tusk --scheduler <addr>)",
				methodName(info.FullMethod),
			)
		}
		return handler(ctx, req)
	}
}

// StreamReadOnlyInterceptor is ReadOnlyInterceptor for streaming RPCs
func StreamReadOnlyInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if !isReadOnlyMethod(info.FullMethod) {
			return status.Errorf(codes.PermissionDenied, "%s not allowed on the unix socket", methodName(info.FullMethod))
		}
		return handler(srv, ss)
	}
}

// isReadOnlyMethod checks if a gRPC method is read-only
func isReadOnlyMethod(method string) bool {
	readOnlyPrefixes := []string{
		"List",
		"Get",
		"Watch",
		"Fetch",
	}

	name := methodName(method)
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
