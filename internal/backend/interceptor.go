// ABOUTME: gRPC interceptor that logs each backend call with its function path
// ABOUTME: Successful calls log at debug, failures at warn with the status code

package backend

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// LoggingInterceptor returns a unary interceptor that records the function
// path, duration and outcome of every call.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{
			"method", info.FullMethod,
			"duration", time.Since(start),
		}
		if s, ok := req.(*structpb.Struct); ok {
			attrs = append(attrs, "path", s.GetFields()["path"].GetStringValue())
		}
		if err != nil {
			attrs = append(attrs, "code", status.Code(err).String(), "error", status.Convert(err).Message())
			logger.Warn("backend call failed", attrs...)
			return resp, err
		}
		logger.Debug("backend call", attrs...)
		return resp, nil
	}
}
