package grpc

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/quasar/internal/backend"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/observability"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs all gRPC requests
func loggingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	duration := time.Since(start)

	if err != nil {
		logging.OpWithTrace(ctx).Error("gRPC request failed",
			"method", info.FullMethod,
			"duration", duration,
			"error", err,
		)
	} else {
		logging.OpWithTrace(ctx).Debug("gRPC request completed",
			"method", info.FullMethod,
			"duration", duration,
		)
	}
	return resp, err
}

// errorHandlingInterceptor converts errors to gRPC status codes
func errorHandlingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	var taskErr *backend.TaskError
	switch {
	case errors.As(err, &taskErr):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrUsage), errors.Is(err, domain.ErrArgumentBinding), errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, backend.ErrUnknownObject), errors.Is(err, backend.ErrUnknownFunction):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, backend.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// tracingInterceptor continues the caller's trace for every request
func tracingInterceptor(
	ctx context.Context,
	req any,
	info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	if !observability.Enabled() {
		return handler(ctx, req)
	}
	ctx, span := observability.StartServerSpan(observability.ExtractIncoming(ctx), info.FullMethod,
		observability.AttrRPCMethod.String(info.FullMethod),
	)
	defer span.End()

	resp, err := handler(ctx, req)
	if err != nil {
		observability.SetSpanError(span, err)
	} else {
		observability.SetSpanOK(span)
	}
	return resp, err
}

// propagatingClientInterceptor sends the caller's trace context to the daemon
func propagatingClientInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(observability.InjectOutgoing(ctx), method, req, reply, cc, opts...)
}
