package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// JobsServiceName is the fully qualified gRPC service name.
const JobsServiceName = "panostitch.v1.Jobs"

// JobsServer is the server API for the jobs service. Messages are
// well-known protobuf types so no generated code is needed.
type JobsServer interface {
	// Get returns a job with its result meta and pair alignments.
	Get(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// Recent lists the newest jobs, at most the given limit.
	Recent(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
}

// RegisterJobsServer registers srv on s.
func RegisterJobsServer(s grpc.ServiceRegistrar, srv JobsServer) {
	s.RegisterService(&JobsServiceDesc, srv)
}

func jobsGetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobsServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + JobsServiceName + "/Get"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobsServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func jobsRecentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int32Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(JobsServer).Recent(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + JobsServiceName + "/Recent"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(JobsServer).Recent(ctx, req.(*wrapperspb.Int32Value))
	}
	return interceptor(ctx, in, info, handler)
}

// JobsServiceDesc describes the jobs service for grpc.Server.
var JobsServiceDesc = grpc.ServiceDesc{
	ServiceName: JobsServiceName,
	HandlerType: (*JobsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: jobsGetHandler},
		{MethodName: "Recent", Handler: jobsRecentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "panostitch/v1/jobs.proto",
}

// JobsClient calls the jobs service.
type JobsClient struct {
	cc grpc.ClientConnInterface
}

// NewJobsClient wraps a client connection.
func NewJobsClient(cc grpc.ClientConnInterface) *JobsClient {
	return &JobsClient{cc: cc}
}

func (c *JobsClient) Get(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+JobsServiceName+"/Get", wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *JobsClient) Recent(ctx context.Context, limit int32, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, "/"+JobsServiceName+"/Recent", wrapperspb.Int32(limit), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
