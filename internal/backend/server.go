// ABOUTME: Backend gRPC server that dispatches named functions over the store
// ABOUTME: Every request must carry the shared adapter secret in its args

package backend

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/store"
)

// Server answers Query and Mutation calls by looking up the named function
// and running it against the store.
type Server struct {
	store     store.Store
	secret    []byte
	functions map[string]function
	logger    *slog.Logger
}

// NewServer builds a backend server. An empty secret is a configuration error.
func NewServer(st store.Store, secret string, logger *slog.Logger) (*Server, error) {
	if secret == "" {
		return nil, apperr.New(apperr.Configuration, "backend.NewServer", "adapter secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  st,
		secret: []byte(secret),
		logger: logger.With("component", "backend"),
	}
	s.functions = s.registry()
	return s, nil
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// Functions lists the registered function paths, for diagnostics.
func (s *Server) Functions() map[string]Kind {
	out := make(map[string]Kind, len(s.functions))
	for path, fn := range s.functions {
		out[path] = fn.kind
	}
	return out
}

func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Value, error) {
	return s.dispatch(ctx, KindQuery, req)
}

func (s *Server) Mutation(ctx context.Context, req *structpb.Struct) (*structpb.Value, error) {
	return s.dispatch(ctx, KindMutation, req)
}

func (s *Server) dispatch(ctx context.Context, kind Kind, req *structpb.Struct) (*structpb.Value, error) {
	path := req.GetFields()["path"].GetStringValue()
	args := req.GetFields()["args"].GetStructValue()
	if args == nil {
		return nil, status.Error(codes.InvalidArgument, "args are required")
	}

	// The secret is checked before the path so unauthenticated callers
	// cannot probe which functions exist.
	secret := args.GetFields()["secret"].GetStringValue()
	if subtle.ConstantTimeCompare([]byte(secret), s.secret) != 1 {
		s.logAuthFailure(ctx, "invalid_secret", "path", path)
		return nil, status.Error(codes.Unauthenticated, "invalid adapter secret")
	}
	delete(args.Fields, "secret")

	fn, ok := s.functions[path]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown function %q", path)
	}
	if fn.kind != kind {
		return nil, status.Errorf(codes.InvalidArgument, "%s is a %s, not a %s", path, fn.kind, kind)
	}

	raw, err := protojson.Marshal(args)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encoding args: %v", err)
	}

	result, err := fn.handler(ctx, raw)
	if err != nil {
		return nil, s.toStatus(path, err)
	}

	out, err := toValue(result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) toStatus(path string, err error) error {
	var argErr *argsError
	switch {
	case errors.As(err, &argErr):
		return status.Errorf(codes.InvalidArgument, "%s: %v", path, argErr)
	case errors.Is(err, store.ErrNotFound):
		return status.Errorf(codes.NotFound, "%s: %v", path, err)
	case errors.Is(err, store.ErrDuplicate):
		return status.Errorf(codes.AlreadyExists, "%s: %v", path, err)
	case errors.Is(err, store.ErrCounterNotIncreasing):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", path, err)
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.logger.Error("function failed", "path", path, "error", err)
	return status.Errorf(codes.Internal, "%s failed", path)
}

// logAuthFailure logs a rejected call with the peer address when known.
func (s *Server) logAuthFailure(ctx context.Context, reason string, attrs ...any) {
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	s.logger.Warn("auth failure", baseAttrs...)
}

// argsError marks a request whose arguments could not be decoded or were
// missing a required field.
type argsError struct {
	msg string
}

func (e *argsError) Error() string { return e.msg }

func badArgs(format string, a ...any) error {
	return &argsError{msg: fmt.Sprintf(format, a...)}
}
