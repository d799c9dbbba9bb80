package api

import (
	"context"
	"errors"

	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/events"
	"github.com/jmsadair/roster/node"
	"github.com/jmsadair/roster/registry"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrGRPCNotAuthorized         = status.Error(codes.PermissionDenied, registry.ErrNotAuthorized.Error())
	ErrGRPCMembersLimitExceeded  = status.Error(codes.ResourceExhausted, registry.ErrMembersLimitExceeded.Error())
	ErrGRPCMemberNotFound        = status.Error(codes.NotFound, registry.ErrMemberNotFound.Error())
	ErrGRPCRootCannotBeMember    = status.Error(codes.FailedPrecondition, registry.ErrRootCannotBeMember.Error())
	ErrGRPCInvalidIdentity       = status.Error(codes.InvalidArgument, node.ErrInvalidIdentity.Error())
	ErrGRPCInvalidNode           = status.Error(codes.InvalidArgument, node.ErrInvalidNode.Error())
	ErrGRPCNodeExists            = status.Error(codes.AlreadyExists, consensus.ErrNodeExists.Error())
	ErrGRPCLeadershipLost        = status.Error(codes.Unavailable, consensus.ErrLeadershipLost.Error())
	ErrGRPCNotLeader             = status.Error(codes.Unavailable, consensus.ErrNotLeader.Error())
	ErrGRPCLeader                = status.Error(codes.FailedPrecondition, consensus.ErrLeader.Error())
	ErrGRPCEnqueueTimeout        = status.Error(codes.Unavailable, consensus.ErrEnqueueTimeout.Error())
	ErrGRPCShutdown              = status.Error(codes.Unavailable, consensus.ErrShutdown.Error())
	ErrGRPCJournalClosed         = status.Error(codes.Unavailable, events.ErrJournalClosed.Error())
	ErrGRPCInvalidEventsRequest  = status.Error(codes.InvalidArgument, "api: invalid events request")
	ErrGRPCInvalidClusterRequest = status.Error(codes.InvalidArgument, "api: invalid cluster request")

	// Maps the sentinel errors of the domain packages to their status errors, and back.
	sentinels = []struct {
		err  error
		grpc error
	}{
		{registry.ErrNotAuthorized, ErrGRPCNotAuthorized},
		{registry.ErrMembersLimitExceeded, ErrGRPCMembersLimitExceeded},
		{registry.ErrMemberNotFound, ErrGRPCMemberNotFound},
		{registry.ErrRootCannotBeMember, ErrGRPCRootCannotBeMember},
		{node.ErrInvalidIdentity, ErrGRPCInvalidIdentity},
		{node.ErrInvalidNode, ErrGRPCInvalidNode},
		{consensus.ErrNodeExists, ErrGRPCNodeExists},
		{consensus.ErrLeadershipLost, ErrGRPCLeadershipLost},
		{consensus.ErrNotLeader, ErrGRPCNotLeader},
		{consensus.ErrLeader, ErrGRPCLeader},
		{consensus.ErrEnqueueTimeout, ErrGRPCEnqueueTimeout},
		{consensus.ErrShutdown, ErrGRPCShutdown},
		{events.ErrJournalClosed, ErrGRPCJournalClosed},
	}
)

// ToStatus converts an error returned by a node into a gRPC status error.
// Errors that are not known to the service are reported as internal errors.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.grpc
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC status error into the sentinel error it was created from.
// Status errors that do not correspond to a sentinel are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, s := range sentinels {
		known, _ := status.FromError(s.grpc)
		if st.Code() == known.Code() && st.Message() == known.Message() {
			return s.err
		}
	}
	return err
}

// IsNotLeader returns whether the error reports that a node could not serve a request
// because it is not the leader.
func IsNotLeader(err error) bool {
	err = FromStatus(err)
	return errors.Is(err, consensus.ErrNotLeader) || errors.Is(err, consensus.ErrLeadershipLost)
}
