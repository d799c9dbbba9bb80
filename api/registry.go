// Package api defines the roster.v1.Registry gRPC service shared by servers and clients.
// Requests and responses are protobuf well-known types so that the service needs no generated code.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the registry service.
const ServiceName = "roster.v1.Registry"

const (
	AddMemberMethod         = "/" + ServiceName + "/AddMember"
	RemoveMemberMethod      = "/" + ServiceName + "/RemoveMember"
	GetMembersMethod        = "/" + ServiceName + "/GetMembers"
	ListEventsMethod        = "/" + ServiceName + "/ListEvents"
	JoinClusterMethod       = "/" + ServiceName + "/JoinCluster"
	RemoveFromClusterMethod = "/" + ServiceName + "/RemoveFromCluster"
	ClusterStatusMethod     = "/" + ServiceName + "/ClusterStatus"
)

// RegistryServer is the server API for the registry service.
type RegistryServer interface {
	AddMember(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	RemoveMember(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetMembers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	JoinCluster(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	RemoveFromCluster(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	ClusterStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegistryClient is the client API for the registry service.
type RegistryClient interface {
	AddMember(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	RemoveMember(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetMembers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	ListEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error)
	JoinCluster(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	RemoveFromCluster(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	ClusterStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// ServiceDesc describes the registry service for grpc.ServiceRegistrar.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("AddMember", AddMemberMethod, newStringValue, RegistryServer.AddMember),
		unaryMethod("RemoveMember", RemoveMemberMethod, newStringValue, RegistryServer.RemoveMember),
		unaryMethod("GetMembers", GetMembersMethod, newEmpty, RegistryServer.GetMembers),
		unaryMethod("ListEvents", ListEventsMethod, newStruct, RegistryServer.ListEvents),
		unaryMethod("JoinCluster", JoinClusterMethod, newStruct, RegistryServer.JoinCluster),
		unaryMethod("RemoveFromCluster", RemoveFromClusterMethod, newStringValue, RegistryServer.RemoveFromCluster),
		unaryMethod("ClusterStatus", ClusterStatusMethod, newEmpty, RegistryServer.ClusterStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roster/v1/registry.proto",
}

// RegisterRegistryServer registers the registry service on s.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func newStringValue() *wrapperspb.StringValue { return &wrapperspb.StringValue{} }
func newEmpty() *emptypb.Empty                 { return &emptypb.Empty{} }
func newStruct() *structpb.Struct              { return &structpb.Struct{} }

func unaryMethod[Req proto.Message, Resp proto.Message](
	name string,
	fullMethod string,
	newRequest func() Req,
	call func(RegistryServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newRequest()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RegistryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RegistryServer), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type registryClient struct {
	cc grpc.ClientConnInterface
}

// NewRegistryClient creates a client for the registry service over cc.
func NewRegistryClient(cc grpc.ClientConnInterface) RegistryClient {
	return &registryClient{cc: cc}
}

func (c *registryClient) AddMember(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, AddMemberMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) RemoveMember(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RemoveMemberMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) GetMembers(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, GetMembersMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) ListEvents(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, ListEventsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) JoinCluster(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, JoinClusterMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) RemoveFromCluster(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, RemoveFromClusterMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *registryClient) ClusterStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ClusterStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
