package server

import (
	"context"

	"github.com/jmsadair/roster/api"
	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/internal/transport"
	"github.com/jmsadair/roster/registry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Node serves registry requests.
type Node interface {
	AddMember(ctx context.Context, caller registry.Caller, member registry.Identity) error
	RemoveMember(ctx context.Context, caller registry.Caller, member registry.Identity) error
	Members(ctx context.Context) ([]registry.Identity, error)
	Events(ctx context.Context, from registry.Timestamp, limit int) ([]registry.Event, error)
	JoinCluster(ctx context.Context, caller registry.Caller, id, address string) error
	RemoveFromCluster(ctx context.Context, caller registry.Caller, id string) error
	ClusterStatus(ctx context.Context) (consensus.Status, error)
}

// RPCServer is the gRPC registry server.
type RPCServer struct {
	*transport.Server
	Address string
	Node    Node
	Health  *health.Server
}

// NewServer creates a new server.
func NewServer(address string, node Node, opts ...grpc.ServerOption) *RPCServer {
	s := &RPCServer{
		Address: address,
		Node:    node,
		Health:  health.NewServer(),
	}
	s.Server = transport.NewServer(address, func(grpcServer *grpc.Server) {
		api.RegisterRegistryServer(grpcServer, s)
		grpc_health_v1.RegisterHealthServer(grpcServer, s.Health)
	}, opts...)
	return s
}

// AddMember handles requests for adding a member to the registry.
func (s *RPCServer) AddMember(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Node.AddMember(ctx, callerFromContext(ctx), registry.Identity(request.GetValue())); err != nil {
		return nil, api.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RemoveMember handles requests for removing a member from the registry.
func (s *RPCServer) RemoveMember(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Node.RemoveMember(ctx, callerFromContext(ctx), registry.Identity(request.GetValue())); err != nil {
		return nil, api.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// GetMembers handles requests for reading the member list.
func (s *RPCServer) GetMembers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	members, err := s.Node.Members(ctx)
	if err != nil {
		return nil, api.ToStatus(err)
	}
	return api.MembersToProto(members), nil
}

// ListEvents handles requests for reading the history of membership changes.
func (s *RPCServer) ListEvents(ctx context.Context, request *structpb.Struct) (*structpb.ListValue, error) {
	from, limit, err := api.ParseEventsRequest(request)
	if err != nil {
		return nil, err
	}
	evs, err := s.Node.Events(ctx, from, limit)
	if err != nil {
		return nil, api.ToStatus(err)
	}
	return api.EventsToProto(evs), nil
}

// JoinCluster handles requests for adding a node to the raft cluster.
func (s *RPCServer) JoinCluster(ctx context.Context, request *structpb.Struct) (*emptypb.Empty, error) {
	id, address, err := api.ParseJoinRequest(request)
	if err != nil {
		return nil, err
	}
	if err := s.Node.JoinCluster(ctx, callerFromContext(ctx), id, address); err != nil {
		return nil, api.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RemoveFromCluster handles requests for removing a node from the raft cluster.
func (s *RPCServer) RemoveFromCluster(ctx context.Context, request *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Node.RemoveFromCluster(ctx, callerFromContext(ctx), request.GetValue()); err != nil {
		return nil, api.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ClusterStatus handles requests for getting the raft cluster status.
func (s *RPCServer) ClusterStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	status, err := s.Node.ClusterStatus(ctx)
	if err != nil {
		return nil, api.ToStatus(err)
	}
	return api.StatusToProto(status), nil
}

func callerFromContext(ctx context.Context) registry.Caller {
	return registry.Caller{Token: api.TokenFromContext(ctx)}
}
