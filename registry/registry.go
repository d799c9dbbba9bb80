package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Caller is the actor invoking a registry operation.
type Caller struct {
	// An identity whose origin has already been verified, if any.
	Identity Identity
	// A credential that the configured AuthorizationChecker understands, if any.
	Token string
}

// AuthorizationChecker decides whether a caller may invoke a registry operation.
// It returns the verified identity of the caller or an error describing the rejection.
type AuthorizationChecker interface {
	Verify(ctx context.Context, caller Caller) (Identity, error)
}

// Config contains the static configuration of a registry.
type Config struct {
	// The maximum number of entries in the member list. Must be positive.
	MaxMembers uint32
	// A privileged identity that may never be added as a member. Empty disables the check.
	Root Identity
}

// Registry is a capacity-bounded, authorization-gated membership registry.
// Every successful mutation emits exactly one event and failed mutations leave the member list untouched.
type Registry struct {
	cfg     Config
	store   Store
	checker AuthorizationChecker
	clock   Clock
	sink    EventSink
	log     *slog.Logger
	mu      sync.Mutex
}

// NewRegistry creates a new registry.
func NewRegistry(
	cfg Config,
	store Store,
	checker AuthorizationChecker,
	clock Clock,
	sink EventSink,
	log *slog.Logger,
) (*Registry, error) {
	if cfg.MaxMembers == 0 {
		return nil, fmt.Errorf("%w: max members must be positive", ErrInvalidConfig)
	}
	return &Registry{
		cfg:     cfg,
		store:   store,
		checker: checker,
		clock:   clock,
		sink:    sink,
		log:     log.With("component", "registry"),
	}, nil
}

// AddMember appends the identity to the member list.
// No duplicate check is performed: an identity that is already present is appended again.
func (r *Registry) AddMember(ctx context.Context, caller Caller, member Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller); err != nil {
		return err
	}
	if r.cfg.Root != "" && member == r.cfg.Root {
		return ErrRootCannotBeMember
	}

	members, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if uint64(members.Len()) >= uint64(r.cfg.MaxMembers) {
		return ErrMembersLimitExceeded
	}
	if err := members.Push(member); err != nil {
		return err
	}
	if err := r.store.Commit(ctx, members); err != nil {
		return err
	}

	event := NewMemberAddedEvent(r.clock.Now(), member)
	r.sink.Record(event)
	r.log.DebugContext(ctx, "member added", "member", member, "timestamp", event.Timestamp, "size", members.Len())
	return nil
}

// RemoveMember removes the first occurrence of the identity from the member list.
func (r *Registry) RemoveMember(ctx context.Context, caller Caller, member Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.authorize(ctx, caller); err != nil {
		return err
	}

	members, err := r.store.Load(ctx)
	if err != nil {
		return err
	}
	if _, ok := members.Remove(member); !ok {
		return ErrMemberNotFound
	}
	if err := r.store.Commit(ctx, members); err != nil {
		return err
	}

	event := NewMemberRemovedEvent(r.clock.Now(), member)
	r.sink.Record(event)
	r.log.DebugContext(ctx, "member removed", "member", member, "timestamp", event.Timestamp, "size", members.Len())
	return nil
}

// Members returns a copy of the member list in insertion order.
func (r *Registry) Members(ctx context.Context) ([]Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, err := r.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return members.Members(), nil
}

// MaxMembers returns the bound on the member list.
func (r *Registry) MaxMembers() uint32 {
	return r.cfg.MaxMembers
}

func (r *Registry) authorize(ctx context.Context, caller Caller) error {
	if _, err := r.checker.Verify(ctx, caller); err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthorized, err)
	}
	return nil
}
