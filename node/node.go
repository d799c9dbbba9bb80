package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jmsadair/roster/node"

const (
	opAddMember         = "add-member"
	opRemoveMember      = "remove-member"
	opJoinCluster       = "join-cluster"
	opRemoveFromCluster = "remove-from-cluster"
)

var (
	ErrInvalidIdentity = errors.New("node: invalid identity")
	ErrInvalidNode     = errors.New("node: invalid node ID or address")
)

// Consensus replicates registry commands across the cluster.
type Consensus interface {
	AddMember(ctx context.Context, caller registry.Identity, member registry.Identity) ([]registry.Identity, error)
	RemoveMember(ctx context.Context, caller registry.Identity, member registry.Identity) ([]registry.Identity, error)
	Members(ctx context.Context) ([]registry.Identity, error)
	JoinCluster(ctx context.Context, id, address string) error
	RemoveFromCluster(ctx context.Context, id string) error
	ClusterStatus() (consensus.Status, error)
	LeaderCh() <-chan bool
	Shutdown() error
}

// EventReader reads the history of membership changes.
type EventReader interface {
	List(from registry.Timestamp, limit int) ([]registry.Event, error)
}

// Observer is notified of rejected requests and leadership changes.
type Observer interface {
	ObserveRejection(operation string, err error)
	SetLeader(isLeader bool)
}

// Config holds the collaborators of a Node.
type Config struct {
	// The ID of this node.
	ID string
	// Replicates commands.
	Consensus Consensus
	// Verifies the credentials of callers that change the registry.
	Checker registry.AuthorizationChecker
	// Verifies the credentials of callers that change the raft cluster. Defaults to Checker.
	Admin registry.AuthorizationChecker
	// The event history.
	Events EventReader
	// Notified of rejections and leadership changes. Optional.
	Observer Observer
	Log      *slog.Logger
}

// Node is the entry point for requests made against the registry.
// It verifies the credentials of callers and proposes commands carrying the verified identity.
type Node struct {
	ID        string
	consensus Consensus
	checker   registry.AuthorizationChecker
	admin     registry.AuthorizationChecker
	events    EventReader
	observer  Observer
	tracer    trace.Tracer
	log       *slog.Logger
	isLeader  bool
	mu        sync.Mutex
}

// NewNode creates a new node.
func NewNode(cfg Config) *Node {
	admin := cfg.Admin
	if admin == nil {
		admin = cfg.Checker
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		ID:        cfg.ID,
		consensus: cfg.Consensus,
		checker:   cfg.Checker,
		admin:     admin,
		events:    cfg.Events,
		observer:  observer,
		tracer:    otel.Tracer(tracerName),
		log:       log.With("local-id", cfg.ID),
	}
}

// Run tracks changes in leadership until the context is cancelled, and then shuts down consensus.
func (n *Node) Run(ctx context.Context) error {
	leaderCh := n.consensus.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return n.consensus.Shutdown()
		case isLeader := <-leaderCh:
			n.onLeadershipChange(ctx, isLeader)
		}
	}
}

// IsLeader returns whether this node was the leader as of the last leadership change.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isLeader
}

// AddMember adds a member to the registry on behalf of the caller.
func (n *Node) AddMember(ctx context.Context, caller registry.Caller, member registry.Identity) error {
	ctx, span := n.tracer.Start(ctx, "Node.AddMember", trace.WithAttributes(attribute.String("roster.member", string(member))))
	defer span.End()

	err := n.propose(ctx, caller, member, n.consensus.AddMember)
	return n.finish(ctx, span, opAddMember, err)
}

// RemoveMember removes a member from the registry on behalf of the caller.
func (n *Node) RemoveMember(ctx context.Context, caller registry.Caller, member registry.Identity) error {
	ctx, span := n.tracer.Start(ctx, "Node.RemoveMember", trace.WithAttributes(attribute.String("roster.member", string(member))))
	defer span.End()

	err := n.propose(ctx, caller, member, n.consensus.RemoveMember)
	return n.finish(ctx, span, opRemoveMember, err)
}

// Members returns the current member list. Only the leader can serve it.
func (n *Node) Members(ctx context.Context) ([]registry.Identity, error) {
	ctx, span := n.tracer.Start(ctx, "Node.Members")
	defer span.End()

	members, err := n.consensus.Members(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("roster.members", len(members)))
	return members, nil
}

// Events returns up to limit events with a timestamp of at least from, in timestamp order.
// A limit that is not positive returns every such event.
// Events are read from the local journal, so a follower may lag behind the leader.
func (n *Node) Events(ctx context.Context, from registry.Timestamp, limit int) ([]registry.Event, error) {
	_, span := n.tracer.Start(ctx, "Node.Events", trace.WithAttributes(
		attribute.Int64("roster.from", int64(from)),
		attribute.Int("roster.limit", limit),
	))
	defer span.End()

	evs, err := n.events.List(from, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return evs, nil
}

// JoinCluster adds a node to the raft cluster. The caller must be an administrator.
func (n *Node) JoinCluster(ctx context.Context, caller registry.Caller, id, address string) error {
	ctx, span := n.tracer.Start(ctx, "Node.JoinCluster", trace.WithAttributes(
		attribute.String("roster.node-id", id),
		attribute.String("roster.node-address", address),
	))
	defer span.End()

	err := n.changeCluster(ctx, caller, func() error {
		if id == "" || address == "" {
			return ErrInvalidNode
		}
		return n.consensus.JoinCluster(ctx, id, address)
	})
	if err == nil {
		n.log.InfoContext(ctx, "node joined cluster", "node-id", id, "node-address", address)
	}
	return n.finish(ctx, span, opJoinCluster, err)
}

// RemoveFromCluster removes a node from the raft cluster. The caller must be an administrator.
func (n *Node) RemoveFromCluster(ctx context.Context, caller registry.Caller, id string) error {
	ctx, span := n.tracer.Start(ctx, "Node.RemoveFromCluster", trace.WithAttributes(attribute.String("roster.node-id", id)))
	defer span.End()

	err := n.changeCluster(ctx, caller, func() error {
		if id == "" {
			return ErrInvalidNode
		}
		return n.consensus.RemoveFromCluster(ctx, id)
	})
	if err == nil {
		n.log.InfoContext(ctx, "node removed from cluster", "node-id", id)
	}
	return n.finish(ctx, span, opRemoveFromCluster, err)
}

// ClusterStatus returns the nodes in the raft cluster and the current leader.
func (n *Node) ClusterStatus(ctx context.Context) (consensus.Status, error) {
	_, span := n.tracer.Start(ctx, "Node.ClusterStatus")
	defer span.End()
	return n.consensus.ClusterStatus()
}

func (n *Node) propose(
	ctx context.Context,
	caller registry.Caller,
	member registry.Identity,
	apply func(ctx context.Context, caller registry.Identity, member registry.Identity) ([]registry.Identity, error),
) error {
	verified, err := n.checker.Verify(ctx, caller)
	if err != nil {
		return errors.Join(registry.ErrNotAuthorized, err)
	}
	if member == "" {
		return ErrInvalidIdentity
	}
	_, err = apply(ctx, verified, member)
	return err
}

func (n *Node) changeCluster(ctx context.Context, caller registry.Caller, change func() error) error {
	if _, err := n.admin.Verify(ctx, caller); err != nil {
		return errors.Join(registry.ErrNotAuthorized, err)
	}
	return change()
}

func (n *Node) finish(ctx context.Context, span trace.Span, operation string, err error) error {
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	n.observer.ObserveRejection(operation, err)
	n.log.DebugContext(ctx, "request rejected", "operation", operation, "error", err)
	return err
}

func (n *Node) onLeadershipChange(ctx context.Context, isLeader bool) {
	n.mu.Lock()
	n.isLeader = isLeader
	n.mu.Unlock()

	n.observer.SetLeader(isLeader)
	if isLeader {
		n.log.InfoContext(ctx, "acquired leadership")
	} else {
		n.log.InfoContext(ctx, "lost leadership")
	}
}

type nopObserver struct{}

func (nopObserver) ObserveRejection(string, error) {}
func (nopObserver) SetLeader(bool)                 {}
