package api

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// RequestIDHeader is the metadata key holding a request id
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// RequestID returns the request id attached by RequestIDInterceptor
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// RequestIDInterceptor reuses the caller's x-request-id or assigns a new one
// and logs failed calls with it.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		var id string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.New().String()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, id)

		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug().
				Err(err).
				Str("request_id", id).
				Str("method", info.FullMethod).
				Msg("Request failed")
		}
		return resp, err
	}
}

// MetricsInterceptor counts requests by method and result code
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		metrics.APIRequestsTotal.WithLabelValues(methodName(info.FullMethod), status.Code(err).String()).Inc()
		return resp, err
	}
}

// methodName extracts the method from a full path
// (e.g., "/burrow.PersistentTasks/ListTasks" -> "ListTasks")
func methodName(fullMethod string) string {
	parts := strings.Split(fullMethod, "/")
	return parts[len(parts)-1]
}
