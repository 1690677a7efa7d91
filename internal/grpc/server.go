// Package grpc carries task submission, function export and object
// retrieval between a caller and a remote quasar daemon.
package grpc

import (
	"context"
	"fmt"
	"net"

	"github.com/oriys/quasar/internal/backend"
	"github.com/oriys/quasar/internal/domain"
	"github.com/oriys/quasar/internal/export"
	"github.com/oriys/quasar/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Resolver maps an exported descriptor to the handler compiled into the
// daemon. Handlers never travel over the wire.
type Resolver interface {
	Resolve(d domain.FunctionDescriptor) (domain.Handler, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(d domain.FunctionDescriptor) (domain.Handler, bool)

func (f ResolverFunc) Resolve(d domain.FunctionDescriptor) (domain.Handler, bool) { return f(d) }

// Server implements TaskService on top of a local backend.
type Server struct {
	local    *backend.Local
	resolver Resolver
	table    export.Sink
	server   *grpc.Server
	health   *health.Server
}

type ServerOption func(*Server)

// WithFunctionTable persists every exported function, e.g. to Redis or
// Postgres, in addition to registering it with the local backend.
func WithFunctionTable(s export.Sink) ServerOption {
	return func(srv *Server) { srv.table = s }
}

// NewServer creates a TaskService server. extra server options are appended
// after the built-in codec and interceptors.
func NewServer(local *backend.Local, resolver Resolver, opts []ServerOption, extra ...grpc.ServerOption) *Server {
	s := &Server{local: local, resolver: resolver}
	for _, opt := range opts {
		opt(s)
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.ForceServerCodec(Codec()),
		grpc.ChainUnaryInterceptor(
			tracingInterceptor,
			loggingInterceptor,
			errorHandlingInterceptor,
		),
	}, extra...)
	s.server = grpc.NewServer(serverOpts...)
	RegisterTaskService(s.server, s)

	s.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(s.server)
	return s
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logging.Op().Info("gRPC server started", "addr", lis.Addr().String())
	go func() {
		if err := s.Serve(lis); err != nil {
			logging.Op().Error("gRPC server error", "error", err)
		}
	}()
	return nil
}

// Serve blocks serving lis.
func (s *Server) Serve(lis net.Listener) error { return s.server.Serve(lis) }

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) SubmitTask(ctx context.Context, req *SubmitTaskRequest) (*SubmitTaskResponse, error) {
	if req.Request == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	refs, err := s.local.SubmitTask(ctx, req.Request)
	if err != nil {
		return nil, err
	}
	return &SubmitTaskResponse{Refs: refs}, nil
}

func (s *Server) ExportFunction(ctx context.Context, req *ExportFunctionRequest) (*ExportFunctionResponse, error) {
	fn := req.Function
	if fn == nil {
		return nil, status.Error(codes.InvalidArgument, "function is required")
	}
	handler, ok := s.resolver.Resolve(fn.Descriptor)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "function %s is not available on this daemon", fn.Descriptor.QualifiedName())
	}
	fn.Handler = handler
	if err := s.local.Export(ctx, fn); err != nil {
		return nil, err
	}
	if s.table != nil {
		if err := s.table.Export(ctx, fn); err != nil {
			return nil, err
		}
	}
	return &ExportFunctionResponse{}, nil
}

func (s *Server) GetObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResponse, error) {
	v, err := s.local.Get(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	return &GetObjectResponse{Value: v}, nil
}

func (s *Server) ReleaseObjects(ctx context.Context, req *ReleaseObjectsRequest) (*ReleaseObjectsResponse, error) {
	if err := s.local.Release(ctx, req.Refs...); err != nil {
		return nil, err
	}
	return &ReleaseObjectsResponse{}, nil
}

func (s *Server) ReleaseJob(ctx context.Context, req *ReleaseJobRequest) (*ReleaseJobResponse, error) {
	if req.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job id is required")
	}
	n, err := s.local.ReleaseJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	return &ReleaseJobResponse{Functions: n}, nil
}
