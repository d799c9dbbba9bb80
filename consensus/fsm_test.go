package consensus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/jmsadair/roster/auth"
	"github.com/jmsadair/roster/events"
	"github.com/jmsadair/roster/registry"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSnapshotSink struct {
	mock.Mock
}

func (m *mockSnapshotSink) ID() string {
	args := m.MethodCalled("ID")
	return args.String(0)
}

func (m *mockSnapshotSink) Write(p []byte) (n int, err error) {
	args := m.MethodCalled("Write", p)
	return args.Int(0), args.Error(1)
}

func (m *mockSnapshotSink) Close() error {
	args := m.MethodCalled("Close")
	return args.Error(0)
}

func (m *mockSnapshotSink) Cancel() error {
	args := m.MethodCalled("Cancel")
	return args.Error(0)
}

func newTestFSM(t *testing.T, cfg registry.Config) (*FSM, *events.Recorder) {
	recorder := events.NewRecorder()
	fsm, err := NewFSM(cfg, auth.Signed{}, recorder, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return fsm, recorder
}

func applyCommand(t *testing.T, fsm *FSM, index uint64, cmd *Command) *ApplyResult {
	result, ok := fsm.Apply(&raft.Log{Index: index, Type: raft.LogCommand, Data: cmd.Bytes()}).(*ApplyResult)
	require.True(t, ok)
	return result
}

func TestCommandBytes(t *testing.T) {
	cmd := &Command{Op: OpRemoveMember, Caller: "root", Member: "alice"}
	decoded, err := NewCommandFromBytes(cmd.Bytes())
	require.NoError(t, err)
	require.Equal(t, cmd, decoded)

	_, err = NewCommandFromBytes([]byte{0xff})
	require.Error(t, err)

	require.Equal(t, "add-member", OpAddMember.String())
	require.Equal(t, "unknown(9)", Op(9).String())
}

func TestNewFSM(t *testing.T) {
	_, err := NewFSM(registry.Config{}, auth.Signed{}, events.NewRecorder(), slog.New(slog.DiscardHandler))
	require.ErrorIs(t, err, registry.ErrInvalidConfig)

	fsm, _ := newTestFSM(t, registry.Config{MaxMembers: 2})
	members, err := fsm.Members()
	require.NoError(t, err)
	require.Empty(t, members)
	require.Zero(t, fsm.Len())
}

var errUnavailableStore = errors.New("store unavailable")

// unavailableStore fails every load once it is marked down.
type unavailableStore struct {
	*registry.MemoryStore
	down bool
}

func (s *unavailableStore) Load(ctx context.Context) (*registry.MemberList, error) {
	if s.down {
		return nil, errUnavailableStore
	}
	return s.MemoryStore.Load(ctx)
}

func TestApplyReportsStoreErrors(t *testing.T) {
	cfg := registry.Config{MaxMembers: 2}
	store := &unavailableStore{MemoryStore: registry.NewMemoryStore(cfg.MaxMembers)}
	fsm, err := newFSM(cfg, store, auth.Signed{}, events.NewRecorder(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	result := applyCommand(t, fsm, 1, &Command{Op: OpAddMember, Caller: "root", Member: "alice"})
	require.NoError(t, result.Err)
	require.Equal(t, 1, fsm.Len())

	store.down = true
	result = applyCommand(t, fsm, 2, &Command{Op: OpAddMember, Caller: "root", Member: "bob"})
	require.ErrorIs(t, result.Err, errUnavailableStore)
	require.Nil(t, result.Members)
	require.Equal(t, 1, fsm.Len())
	_, err = fsm.Members()
	require.ErrorIs(t, err, errUnavailableStore)
}

func TestApply(t *testing.T) {
	fsm, recorder := newTestFSM(t, registry.Config{MaxMembers: 2})

	result := applyCommand(t, fsm, 3, &Command{Op: OpAddMember, Caller: "root", Member: "alice"})
	require.NoError(t, result.Err)
	require.Equal(t, []registry.Identity{"alice"}, result.Members)

	result = applyCommand(t, fsm, 4, &Command{Op: OpAddMember, Caller: "root", Member: "bob"})
	require.NoError(t, result.Err)
	require.Equal(t, []registry.Identity{"alice", "bob"}, result.Members)

	result = applyCommand(t, fsm, 5, &Command{Op: OpAddMember, Caller: "root", Member: "carol"})
	require.ErrorIs(t, result.Err, registry.ErrMembersLimitExceeded)
	require.Equal(t, []registry.Identity{"alice", "bob"}, result.Members)

	result = applyCommand(t, fsm, 6, &Command{Op: OpRemoveMember, Caller: "root", Member: "alice"})
	require.NoError(t, result.Err)
	require.Equal(t, []registry.Identity{"bob"}, result.Members)

	result = applyCommand(t, fsm, 7, &Command{Op: OpRemoveMember, Caller: "root", Member: "alice"})
	require.ErrorIs(t, result.Err, registry.ErrMemberNotFound)

	result = applyCommand(t, fsm, 8, &Command{Op: OpAddMember, Member: "dave"})
	require.ErrorIs(t, result.Err, registry.ErrNotAuthorized)

	result = applyCommand(t, fsm, 9, &Command{Op: Op(42), Caller: "root", Member: "dave"})
	require.ErrorIs(t, result.Err, ErrUnknownOperation)

	require.Equal(t, 1, fsm.Len())

	// Events are timestamped with the index of the entry that produced them.
	expected := []registry.Event{
		registry.NewMemberAddedEvent(3, "alice"),
		registry.NewMemberAddedEvent(4, "bob"),
		registry.NewMemberRemovedEvent(6, "alice"),
	}
	require.Equal(t, expected, recorder.Events())
}

func TestApplyCorruptEntry(t *testing.T) {
	fsm, _ := newTestFSM(t, registry.Config{MaxMembers: 2})
	require.Panics(t, func() {
		fsm.Apply(&raft.Log{Index: 1, Data: []byte{0xff}})
	})
}

func TestSnapshotRestore(t *testing.T) {
	fsm, _ := newTestFSM(t, registry.Config{MaxMembers: 3})
	applyCommand(t, fsm, 1, &Command{Op: OpAddMember, Caller: "root", Member: "alice"})
	applyCommand(t, fsm, 2, &Command{Op: OpAddMember, Caller: "root", Member: "bob"})

	snapshot, err := fsm.Snapshot()
	require.NoError(t, err)

	var buf bytes.Buffer
	sink := new(mockSnapshotSink)
	sink.On("Write", mock.Anything).Run(func(args mock.Arguments) {
		buf.Write(args.Get(0).([]byte))
	}).Return(0, nil)
	sink.On("Close").Return(nil)
	require.NoError(t, snapshot.Persist(sink))
	snapshot.Release()
	sink.AssertExpectations(t)

	// Changes made after the snapshot was taken are not part of it.
	applyCommand(t, fsm, 3, &Command{Op: OpRemoveMember, Caller: "root", Member: "alice"})

	restored, _ := newTestFSM(t, registry.Config{MaxMembers: 3})
	require.NoError(t, restored.Restore(io.NopCloser(bytes.NewReader(buf.Bytes()))))
	members, err := restored.Members()
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"alice", "bob"}, members)
	require.Equal(t, 2, restored.Len())

	// A snapshot that does not fit within the configured bound is rejected.
	smaller, _ := newTestFSM(t, registry.Config{MaxMembers: 1})
	err = smaller.Restore(io.NopCloser(bytes.NewReader(buf.Bytes())))
	require.ErrorIs(t, err, registry.ErrMembersLimitExceeded)
	members, err = smaller.Members()
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestPersistCancelsOnError(t *testing.T) {
	members := registry.NewMemberList(1)
	require.NoError(t, members.Push("alice"))
	snapshot := NewSnapshot(members)

	sink := new(mockSnapshotSink)
	sink.On("Write", members.Bytes()).Return(0, io.ErrShortWrite)
	sink.On("Cancel").Return(nil)
	require.ErrorIs(t, snapshot.Persist(sink), io.ErrShortWrite)
	sink.AssertExpectations(t)
	sink.AssertNotCalled(t, "Close")
}
