package consensus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/raft"
	"github.com/jmsadair/roster/registry"
)

// ApplyResult is the response of the FSM to an applied command.
type ApplyResult struct {
	// The member list after the command was applied.
	Members []registry.Identity
	// The reason the command was rejected, if it was.
	Err error
}

// Snapshot is a point-in-time copy of the member list.
type Snapshot struct {
	Members *registry.MemberList
}

// NewSnapshot creates a new snapshot of the member list.
func NewSnapshot(members *registry.MemberList) *Snapshot {
	return &Snapshot{Members: members}
}

// Persist writes the snapshot to the sink.
func (s *Snapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.Members.Bytes()); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op.
func (s *Snapshot) Release() {}

// FSM applies committed commands to a registry one at a time.
// The index of the log entry being applied is the clock that timestamps registry events,
// so every replica emits identical events for the same entry.
type FSM struct {
	registry *registry.Registry
	store    registry.Store
	max      uint32
	index    atomic.Uint64
	size     atomic.Int64
}

// NewFSM creates a new FSM hosting an empty registry.
// The configuration and checker must be identical on every replica.
func NewFSM(cfg registry.Config, checker registry.AuthorizationChecker, sink registry.EventSink, log *slog.Logger) (*FSM, error) {
	return newFSM(cfg, registry.NewMemoryStore(cfg.MaxMembers), checker, sink, log)
}

func newFSM(
	cfg registry.Config,
	store registry.Store,
	checker registry.AuthorizationChecker,
	sink registry.EventSink,
	log *slog.Logger,
) (*FSM, error) {
	f := &FSM{store: store, max: cfg.MaxMembers}
	reg, err := registry.NewRegistry(cfg, f.store, checker, registry.ClockFunc(f.now), sink, log)
	if err != nil {
		return nil, err
	}
	f.registry = reg
	return f, nil
}

// Apply applies a committed command to the registry.
func (f *FSM) Apply(log *raft.Log) any {
	cmd, err := NewCommandFromBytes(log.Data)
	if err != nil {
		panic(fmt.Errorf("consensus: corrupt log entry at index %d: %w", log.Index, err))
	}

	f.index.Store(log.Index)
	ctx := context.Background()
	caller := registry.Caller{Identity: cmd.Caller}
	switch cmd.Op {
	case OpAddMember:
		err = f.registry.AddMember(ctx, caller, cmd.Member)
	case OpRemoveMember:
		err = f.registry.RemoveMember(ctx, caller, cmd.Member)
	default:
		err = fmt.Errorf("%w: %s", ErrUnknownOperation, cmd.Op)
	}

	members, membersErr := f.registry.Members(ctx)
	if membersErr != nil {
		if err == nil {
			err = membersErr
		}
		return &ApplyResult{Err: err}
	}
	f.size.Store(int64(len(members)))
	return &ApplyResult{Members: members, Err: err}
}

// Snapshot captures the current member list.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	members, err := f.store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	return NewSnapshot(members), nil
}

// Restore replaces the member list with the one in the snapshot.
// The restored list takes the configured bound; a snapshot with more entries than the bound is rejected.
func (f *FSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()
	b, err := io.ReadAll(snapshot)
	if err != nil {
		return err
	}
	restored, err := registry.NewMemberListFromBytes(b)
	if err != nil {
		return err
	}

	members := registry.NewMemberList(f.max)
	for _, member := range restored.Members() {
		if err := members.Push(member); err != nil {
			return fmt.Errorf("consensus: snapshot holds %d members but the limit is %d: %w", restored.Len(), f.max, err)
		}
	}
	if err := f.store.Commit(context.Background(), members); err != nil {
		return err
	}
	f.size.Store(int64(members.Len()))
	return nil
}

// Members returns a copy of the current member list.
func (f *FSM) Members() ([]registry.Identity, error) {
	return f.registry.Members(context.Background())
}

// Len returns the current number of members.
func (f *FSM) Len() int {
	return int(f.size.Load())
}

func (f *FSM) now() registry.Timestamp {
	return registry.Timestamp(f.index.Load())
}
