package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region descriptor
// ServiceName is the fully qualified gRPC service name.
const ServiceName = "simcert.v1.ControlPlane"

const (
	methodCreateRun = "/" + ServiceName + "/CreateRun"
	methodGetRun    = "/" + ServiceName + "/GetRun"
	methodListRuns  = "/" + ServiceName + "/ListRuns"
)

// ControlPlaneServer is the server side of the control-plane service. Every
// message is a google.protobuf.Struct carrying the JSON shape of the HTTP API.
type ControlPlaneServer interface {
	CreateRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the control-plane service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateRun", Handler: unaryHandler(methodCreateRun, ControlPlaneServer.CreateRun)},
		{MethodName: "GetRun", Handler: unaryHandler(methodGetRun, ControlPlaneServer.GetRun)},
		{MethodName: "ListRuns", Handler: unaryHandler(methodListRuns, ControlPlaneServer.ListRuns)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "simcert/v1/control_plane.proto",
}

// RegisterControlPlaneServer registers srv on s.
func RegisterControlPlaneServer(s grpc.ServiceRegistrar, srv ControlPlaneServer) {
	s.RegisterService(&ServiceDesc, srv)
}

type unaryMethod func(ControlPlaneServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlPlaneServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlPlaneServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// #endregion descriptor

// #region client-stub
// ControlPlaneClient is the client side of the control-plane service.
type ControlPlaneClient interface {
	CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type controlPlaneClient struct {
	cc grpc.ClientConnInterface
}

// NewControlPlaneClient creates a client stub over cc.
func NewControlPlaneClient(cc grpc.ClientConnInterface) ControlPlaneClient {
	return &controlPlaneClient{cc: cc}
}

func (c *controlPlaneClient) CreateRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCreateRun, in, opts)
}

func (c *controlPlaneClient) GetRun(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetRun, in, opts)
}

func (c *controlPlaneClient) ListRuns(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodListRuns, in, opts)
}

func (c *controlPlaneClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// #endregion client-stub
