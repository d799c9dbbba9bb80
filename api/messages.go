package api

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/registry"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// AuthorizationKey is the metadata key that carries the caller's bearer token.
const AuthorizationKey = "authorization"

const bearerPrefix = "Bearer "

// WithToken returns a context that sends the token as the caller's credential on outgoing calls.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, AuthorizationKey, bearerPrefix+token)
}

// TokenFromContext returns the bearer token of an incoming call, or an empty string if there is none.
func TokenFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, value := range md.Get(AuthorizationKey) {
		if len(value) > len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
			return value[len(bearerPrefix):]
		}
	}
	return ""
}

// MembersToProto encodes a member list as a list of strings.
func MembersToProto(members []registry.Identity) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(members))
	for _, member := range members {
		values = append(values, structpb.NewStringValue(string(member)))
	}
	return &structpb.ListValue{Values: values}
}

// MembersFromProto decodes a member list encoded with MembersToProto.
func MembersFromProto(list *structpb.ListValue) ([]registry.Identity, error) {
	members := make([]registry.Identity, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		s, ok := value.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("api: member %d is not a string", i)
		}
		members = append(members, registry.Identity(s.StringValue))
	}
	return members, nil
}

// EventsRequest encodes a request for the events with a timestamp of at least from.
func EventsRequest(from registry.Timestamp, limit int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"from":  structpb.NewNumberValue(float64(from)),
		"limit": structpb.NewNumberValue(float64(limit)),
	}}
}

// ParseEventsRequest decodes a request encoded with EventsRequest. Missing fields default to zero.
func ParseEventsRequest(req *structpb.Struct) (registry.Timestamp, int, error) {
	from, err := numberField(req, "from")
	if err != nil {
		return 0, 0, err
	}
	limit, err := numberField(req, "limit")
	if err != nil {
		return 0, 0, err
	}
	if from < 0 || from != math.Trunc(from) || limit != math.Trunc(limit) {
		return 0, 0, ErrGRPCInvalidEventsRequest
	}
	return registry.Timestamp(from), int(limit), nil
}

// EventsToProto encodes events as a list of structs with kind, timestamp, and identity fields.
func EventsToProto(evs []registry.Event) *structpb.ListValue {
	values := make([]*structpb.Value, 0, len(evs))
	for _, event := range evs {
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"kind":      structpb.NewStringValue(event.Kind.String()),
			"timestamp": structpb.NewNumberValue(float64(event.Timestamp)),
			"identity":  structpb.NewStringValue(string(event.Identity)),
		}}))
	}
	return &structpb.ListValue{Values: values}
}

// EventsFromProto decodes events encoded with EventsToProto.
func EventsFromProto(list *structpb.ListValue) ([]registry.Event, error) {
	evs := make([]registry.Event, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		fields := value.GetStructValue().GetFields()
		kind, err := parseEventKind(fields["kind"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("api: event %d: %w", i, err)
		}
		evs = append(evs, registry.Event{
			Kind:      kind,
			Timestamp: registry.Timestamp(fields["timestamp"].GetNumberValue()),
			Identity:  registry.Identity(fields["identity"].GetStringValue()),
		})
	}
	return evs, nil
}

// JoinRequest encodes a request to add a node to the raft cluster.
func JoinRequest(id, address string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      structpb.NewStringValue(id),
		"address": structpb.NewStringValue(address),
	}}
}

// ParseJoinRequest decodes a request encoded with JoinRequest.
func ParseJoinRequest(req *structpb.Struct) (string, string, error) {
	fields := req.GetFields()
	id, ok := fields["id"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", "", ErrGRPCInvalidClusterRequest
	}
	address, ok := fields["address"].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", "", ErrGRPCInvalidClusterRequest
	}
	return id.StringValue, address.StringValue, nil
}

// StatusToProto encodes the status of the raft cluster.
func StatusToProto(status consensus.Status) *structpb.Struct {
	members := make(map[string]*structpb.Value, len(status.Members))
	for id, address := range status.Members {
		members[id] = structpb.NewStringValue(address)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"leader":  structpb.NewStringValue(status.Leader),
		"members": structpb.NewStructValue(&structpb.Struct{Fields: members}),
	}}
}

// StatusFromProto decodes the status of the raft cluster encoded with StatusToProto.
func StatusFromProto(s *structpb.Struct) consensus.Status {
	fields := s.GetFields()
	members := make(map[string]string)
	for id, address := range fields["members"].GetStructValue().GetFields() {
		members[id] = address.GetStringValue()
	}
	return consensus.Status{Leader: fields["leader"].GetStringValue(), Members: members}
}

func numberField(s *structpb.Struct, name string) (float64, error) {
	value, ok := s.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, ErrGRPCInvalidEventsRequest
	}
	return n.NumberValue, nil
}

func parseEventKind(s string) (registry.EventKind, error) {
	for _, kind := range []registry.EventKind{registry.MemberAdded, registry.MemberRemoved} {
		if kind.String() == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}
