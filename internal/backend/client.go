// ABOUTME: Client for the backend service that injects the adapter secret on every call
// ABOUTME: Translates gRPC status codes back into store and apperr errors

package backend

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/store"
)

// Client calls named backend functions. It is safe for concurrent use.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
	secret string
}

// NewClient wraps an existing connection. An empty secret is a
// configuration error, caught before any call is made.
func NewClient(conn grpc.ClientConnInterface, secret string) (*Client, error) {
	if secret == "" {
		return nil, apperr.New(apperr.Configuration, "backend.NewClient", "adapter secret is required")
	}
	return &Client{conn: conn, secret: secret, closer: func() error { return nil }}, nil
}

// Dial connects to a backend at addr. The connection is established lazily.
func Dial(addr, secret string, opts ...grpc.DialOption) (*Client, error) {
	if secret == "" {
		return nil, apperr.New(apperr.Configuration, "backend.Dial", "adapter secret is required")
	}
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to backend %s: %w", addr, err)
	}
	c, err := NewClient(conn, secret)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.closer = conn.Close
	return c, nil
}

// Close releases the connection when the client owns it.
func (c *Client) Close() error {
	return c.closer()
}

// Query runs a read-only function. found is false when the function
// answered null, in which case out is left untouched.
func (c *Client) Query(ctx context.Context, path string, args, out any) (bool, error) {
	return c.call(ctx, queryMethod, path, args, out)
}

// Mutation runs a function that writes.
func (c *Client) Mutation(ctx context.Context, path string, args, out any) (bool, error) {
	return c.call(ctx, mutationMethod, path, args, out)
}

func (c *Client) call(ctx context.Context, method, path string, args, out any) (bool, error) {
	req, err := newRequest(path, args, c.secret)
	if err != nil {
		return false, apperr.Wrap(apperr.InvalidArgument, path, err)
	}

	resp := new(structpb.Value)
	if err := c.conn.Invoke(ctx, method, req, resp); err != nil {
		return false, fromStatus(path, err)
	}

	found, err := decodeValue(resp, out)
	if err != nil {
		return false, apperr.Wrap(apperr.InvalidResponse, path, err)
	}
	return found, nil
}

// fromStatus maps a gRPC failure onto the error vocabulary callers already
// check for with errors.Is and apperr.KindOf.
func fromStatus(path string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return apperr.Wrap(apperr.Upstream, path, err)
	}
	switch st.Code() {
	case codes.Unauthenticated:
		return apperr.Wrap(apperr.Configuration, path, fmt.Errorf("backend rejected adapter secret: %s", st.Message()))
	case codes.NotFound:
		return apperr.Wrap(apperr.NotFound, path, fmt.Errorf("%s: %w", st.Message(), store.ErrNotFound))
	case codes.AlreadyExists:
		return apperr.Wrap(apperr.InvalidArgument, path, fmt.Errorf("%s: %w", st.Message(), store.ErrDuplicate))
	case codes.FailedPrecondition:
		return apperr.Wrap(apperr.InvalidArgument, path, fmt.Errorf("%s: %w", st.Message(), store.ErrCounterNotIncreasing))
	case codes.InvalidArgument, codes.Unimplemented:
		return apperr.Wrap(apperr.InvalidArgument, path, fmt.Errorf("%s", st.Message()))
	case codes.Canceled:
		return fmt.Errorf("%s: %w", path, context.Canceled)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", path, context.DeadlineExceeded)
	}
	return apperr.Wrap(apperr.Upstream, path, fmt.Errorf("backend %s: %s", st.Code(), st.Message()))
}
