// Package rpc declares the meridian gRPC services. Messages are
// google.protobuf.Struct values carrying the JSON form of the domain types,
// so the services need no generated code.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	Backtester_RunBacktest_FullMethodName    = "/meridian.v1.Backtester/RunBacktest"
	Backtester_GetRun_FullMethodName         = "/meridian.v1.Backtester/GetRun"
	Backtester_ListRuns_FullMethodName       = "/meridian.v1.Backtester/ListRuns"
	Backtester_ListComponents_FullMethodName = "/meridian.v1.Backtester/ListComponents"
	RunStream_WatchRuns_FullMethodName       = "/meridian.v1.RunStream/WatchRuns"
)

// ---------------------------------------------------------------------------
// Codec
// ---------------------------------------------------------------------------

// ToStruct converts v to a Struct through its JSON encoding. v must encode
// as a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encoding %T as object: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON encoding.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Backtester service
// ---------------------------------------------------------------------------

// BacktesterServer is the server API for the meridian.v1.Backtester service.
type BacktesterServer interface {
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListComponents(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBacktesterServer registers srv on s.
func RegisterBacktesterServer(s grpc.ServiceRegistrar, srv BacktesterServer) {
	s.RegisterService(&Backtester_ServiceDesc, srv)
}

type backtesterCall func(BacktesterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call backtesterCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktesterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktesterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Backtester_ServiceDesc is the grpc.ServiceDesc for the Backtester service.
var Backtester_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meridian.v1.Backtester",
	HandlerType: (*BacktesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "RunBacktest",
			Handler:    unaryHandler(Backtester_RunBacktest_FullMethodName, BacktesterServer.RunBacktest),
		},
		{
			MethodName: "GetRun",
			Handler:    unaryHandler(Backtester_GetRun_FullMethodName, BacktesterServer.GetRun),
		},
		{
			MethodName: "ListRuns",
			Handler:    unaryHandler(Backtester_ListRuns_FullMethodName, BacktesterServer.ListRuns),
		},
		{
			MethodName: "ListComponents",
			Handler:    unaryHandler(Backtester_ListComponents_FullMethodName, BacktesterServer.ListComponents),
		},
	},
	Metadata: "meridian/v1/backtester",
}

// BacktesterClient is the client API for the Backtester service.
type BacktesterClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktesterClient creates a client on cc.
func NewBacktesterClient(cc grpc.ClientConnInterface) *BacktesterClient {
	return &BacktesterClient{cc: cc}
}

func (c *BacktesterClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BacktesterClient) RunBacktest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Backtester_RunBacktest_FullMethodName, in, opts...)
}

func (c *BacktesterClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Backtester_GetRun_FullMethodName, in, opts...)
}

func (c *BacktesterClient) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Backtester_ListRuns_FullMethodName, in, opts...)
}

func (c *BacktesterClient) ListComponents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, Backtester_ListComponents_FullMethodName, in, opts...)
}

// ---------------------------------------------------------------------------
// RunStream service
// ---------------------------------------------------------------------------

// RunStreamServer is the server API for the meridian.v1.RunStream service.
type RunStreamServer interface {
	WatchRuns(*structpb.Struct, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterRunStreamServer registers srv on s.
func RegisterRunStreamServer(s grpc.ServiceRegistrar, srv RunStreamServer) {
	s.RegisterService(&RunStream_ServiceDesc, srv)
}

func watchRunsHandler(srv any, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RunStreamServer).WatchRuns(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// RunStream_ServiceDesc is the grpc.ServiceDesc for the RunStream service.
var RunStream_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "meridian.v1.RunStream",
	HandlerType: (*RunStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchRuns",
			Handler:       watchRunsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "meridian/v1/runstream",
}

// RunStreamClient is the client API for the RunStream service.
type RunStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewRunStreamClient creates a client on cc.
func NewRunStreamClient(cc grpc.ClientConnInterface) *RunStreamClient {
	return &RunStreamClient{cc: cc}
}

// WatchRuns opens a server stream of finished runs.
func (c *RunStreamClient) WatchRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &RunStream_ServiceDesc.Streams[0], RunStream_WatchRuns_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[structpb.Struct, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
