package grpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/oriys/quasar/internal/backend"
	"github.com/oriys/quasar/internal/circuitbreaker"
	"github.com/oriys/quasar/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client is a backend that forwards tasks to a remote daemon. It is also the
// export sink and object getter for that daemon.
type Client struct {
	conn    *grpc.ClientConn
	target  string
	breaker *circuitbreaker.Breaker
}

type ClientOption func(*Client)

// WithBreaker guards submissions and exports with b.
func WithBreaker(b *circuitbreaker.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// Dial connects to a daemon at target.
func Dial(target string, opts []ClientOption, dialOpts ...grpc.DialOption) (*Client, error) {
	dialOpts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec())),
		grpc.WithChainUnaryInterceptor(propagatingClientInterceptor),
	}, dialOpts...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	c := &Client{conn: conn, target: target}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Mode() domain.Mode { return domain.ModeCluster }

func (c *Client) SubmitTask(ctx context.Context, req *domain.SubmissionRequest) ([]domain.ObjectRef, error) {
	var resp SubmitTaskResponse
	if err := c.call(ctx, methodSubmitTask, &SubmitTaskRequest{Request: req}, &resp); err != nil {
		return nil, err
	}
	return resp.Refs, nil
}

// Export sends fn to the daemon, which binds it to its own handler.
func (c *Client) Export(ctx context.Context, fn *domain.ExportedFunction) error {
	return c.call(ctx, methodExportFunction, &ExportFunctionRequest{Function: fn}, &ExportFunctionResponse{})
}

// Get blocks until the daemon has the object's value.
func (c *Client) Get(ctx context.Context, ref domain.ObjectRef) (any, error) {
	var resp GetObjectResponse
	if err := c.conn.Invoke(ctx, methodGetObject, &GetObjectRequest{Ref: ref}, &resp); err != nil {
		return nil, fromStatus(methodGetObject, err)
	}
	return resp.Value, nil
}

// Release tells the daemon to drop the values behind refs.
func (c *Client) Release(ctx context.Context, refs ...domain.ObjectRef) error {
	if len(refs) == 0 {
		return nil
	}
	return c.call(ctx, methodReleaseObjects, &ReleaseObjectsRequest{Refs: refs}, &ReleaseObjectsResponse{})
}

// ReleaseJob tells the daemon to drop every function and object of jobID.
func (c *Client) ReleaseJob(ctx context.Context, jobID string) (int, error) {
	var resp ReleaseJobResponse
	if err := c.call(ctx, methodReleaseJob, &ReleaseJobRequest{JobID: jobID}, &resp); err != nil {
		return 0, err
	}
	return resp.Functions, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) call(ctx context.Context, method string, in, out any) error {
	invoke := func() error { return c.conn.Invoke(ctx, method, in, out) }
	if c.breaker == nil {
		return fromStatus(method, invoke())
	}
	err := c.breaker.Do(invoke, transportFailure)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("daemon %s: %w", c.target, err)
	}
	return fromStatus(method, err)
}

// transportFailure reports whether err says the daemon, not the request, is
// at fault.
func transportFailure(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Unknown, codes.ResourceExhausted:
		return true
	}
	return false
}

// fromStatus maps daemon status codes back to the errors the local backend
// would have returned.
func fromStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		if method == methodGetObject {
			return fmt.Errorf("%w: %s", backend.ErrUnknownObject, st.Message())
		}
		return fmt.Errorf("%w: %s", backend.ErrUnknownFunction, st.Message())
	case codes.Aborted:
		return &backend.TaskError{Task: "remote", Err: errors.New(st.Message())}
	case codes.InvalidArgument:
		return domain.Validationf("%s", st.Message())
	case codes.FailedPrecondition:
		return domain.Configurationf("%s", st.Message())
	}
	return err
}
