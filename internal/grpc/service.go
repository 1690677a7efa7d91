package grpc

import (
	"context"

	"github.com/oriys/quasar/internal/domain"
	"google.golang.org/grpc"
)

const serviceName = "quasar.v1.TaskService"

const (
	methodSubmitTask     = "/" + serviceName + "/SubmitTask"
	methodExportFunction = "/" + serviceName + "/ExportFunction"
	methodGetObject      = "/" + serviceName + "/GetObject"
	methodReleaseObjects = "/" + serviceName + "/ReleaseObjects"
	methodReleaseJob     = "/" + serviceName + "/ReleaseJob"
)

type SubmitTaskRequest struct {
	Request *domain.SubmissionRequest `cbor:"request"`
}

type SubmitTaskResponse struct {
	Refs []domain.ObjectRef `cbor:"refs"`
}

type ExportFunctionRequest struct {
	Function *domain.ExportedFunction `cbor:"function"`
}

type ExportFunctionResponse struct{}

type GetObjectRequest struct {
	Ref domain.ObjectRef `cbor:"ref"`
}

type GetObjectResponse struct {
	Value any `cbor:"value"`
}

type ReleaseObjectsRequest struct {
	Refs []domain.ObjectRef `cbor:"refs"`
}

type ReleaseObjectsResponse struct{}

type ReleaseJobRequest struct {
	JobID string `cbor:"job_id"`
}

type ReleaseJobResponse struct {
	Functions int `cbor:"functions"`
}

// TaskService is the daemon side of the remote backend.
type TaskService interface {
	SubmitTask(ctx context.Context, req *SubmitTaskRequest) (*SubmitTaskResponse, error)
	ExportFunction(ctx context.Context, req *ExportFunctionRequest) (*ExportFunctionResponse, error)
	GetObject(ctx context.Context, req *GetObjectRequest) (*GetObjectResponse, error)
	ReleaseObjects(ctx context.Context, req *ReleaseObjectsRequest) (*ReleaseObjectsResponse, error)
	ReleaseJob(ctx context.Context, req *ReleaseJobRequest) (*ReleaseJobResponse, error)
}

// RegisterTaskService registers srv on s.
func RegisterTaskService(s grpc.ServiceRegistrar, srv TaskService) {
	s.RegisterService(&taskServiceDesc, srv)
}

var taskServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*TaskService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitTask", Handler: submitTaskHandler},
		{MethodName: "ExportFunction", Handler: exportFunctionHandler},
		{MethodName: "GetObject", Handler: getObjectHandler},
		{MethodName: "ReleaseObjects", Handler: releaseObjectsHandler},
		{MethodName: "ReleaseJob", Handler: releaseJobHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quasar/v1/task_service",
}

func submitTaskHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SubmitTaskRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).SubmitTask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSubmitTask}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskService).SubmitTask(ctx, req.(*SubmitTaskRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func exportFunctionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExportFunctionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).ExportFunction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExportFunction}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskService).ExportFunction(ctx, req.(*ExportFunctionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getObjectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetObjectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).GetObject(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetObject}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskService).GetObject(ctx, req.(*GetObjectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseObjectsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReleaseObjectsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).ReleaseObjects(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReleaseObjects}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskService).ReleaseObjects(ctx, req.(*ReleaseObjectsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func releaseJobHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReleaseJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TaskService).ReleaseJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReleaseJob}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TaskService).ReleaseJob(ctx, req.(*ReleaseJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}
