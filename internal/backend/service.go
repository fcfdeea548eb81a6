// ABOUTME: Hand-declared gRPC service for the backend store surface
// ABOUTME: Requests and results travel as structpb envelopes converted through protojson

package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName    = "todovex.backend.v1.Backend"
	queryMethod    = "/" + serviceName + "/Query"
	mutationMethod = "/" + serviceName + "/Mutation"
)

// Kind separates read-only functions from ones that write.
type Kind int

const (
	KindQuery Kind = iota
	KindMutation
)

func (k Kind) String() string {
	if k == KindMutation {
		return "mutation"
	}
	return "query"
}

// backendService is the handler contract behind serviceDesc.
type backendService interface {
	Query(ctx context.Context, req *structpb.Struct) (*structpb.Value, error)
	Mutation(ctx context.Context, req *structpb.Struct) (*structpb.Value, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*backendService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler(queryMethod, backendService.Query)},
		{MethodName: "Mutation", Handler: unaryHandler(mutationMethod, backendService.Mutation)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "todovex/backend/v1/backend.proto",
}

type methodFunc func(backendService, context.Context, *structpb.Struct) (*structpb.Value, error)

func unaryHandler(fullMethod string, call methodFunc) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(backendService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// newRequest builds the {path, args} envelope. args is any JSON-encodable
// value whose object form becomes the argument map.
func newRequest(path string, args any, secret string) (*structpb.Struct, error) {
	argMap := map[string]any{}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encoding args for %s: %w", path, err)
		}
		if err := json.Unmarshal(raw, &argMap); err != nil {
			return nil, fmt.Errorf("args for %s must encode as an object: %w", path, err)
		}
	}
	argMap["secret"] = secret

	return structpb.NewStruct(map[string]any{
		"path": path,
		"args": argMap,
	})
}

// toValue converts a handler result into a structpb.Value. nil and typed-nil
// pointers become a null value.
func toValue(v any) (*structpb.Value, error) {
	if v == nil {
		return structpb.NewNullValue(), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	out := new(structpb.Value)
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("converting result: %w", err)
	}
	return out, nil
}

// decodeValue fills out from val. It reports false, leaving out untouched,
// when val is null.
func decodeValue(val *structpb.Value, out any) (bool, error) {
	if val == nil {
		return false, nil
	}
	if _, isNull := val.GetKind().(*structpb.Value_NullValue); isNull {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	raw, err := protojson.Marshal(val)
	if err != nil {
		return false, fmt.Errorf("converting result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding result: %w", err)
	}
	return true, nil
}
