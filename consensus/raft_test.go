package consensus

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jmsadair/roster/auth"
	"github.com/jmsadair/roster/events"
	"github.com/jmsadair/roster/registry"
	"github.com/stretchr/testify/require"
)

const leaderTimeout = 5 * time.Second

func newTestBackend(t *testing.T, nodeID string, address string, bootstrap bool, storeDir string) *Backend {
	fsm, err := NewFSM(registry.Config{MaxMembers: 2}, auth.Signed{}, events.NewRecorder(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	b, err := NewBackend(BackendConfig{
		ID:                  nodeID,
		BindAddress:         address,
		StoragePath:         storeDir,
		SnapshotStoragePath: t.TempDir(),
		Bootstrap:           bootstrap,
	}, fsm)
	require.NoError(t, err)

	return b
}

func waitForLeadership(t *testing.T, b *Backend) {
	select {
	case isLeader := <-b.LeaderCh():
		require.True(t, isLeader)
	case <-time.After(leaderTimeout):
		t.Fatal("failed to elect leader")
	}
}

func TestJoinCluster(t *testing.T) {
	nodeID1 := "leader"
	addr1 := "127.0.0.1:9101"
	leader := newTestBackend(t, nodeID1, addr1, true, t.TempDir())
	defer func() {
		require.NoError(t, leader.Shutdown())
	}()

	nodeID2 := "follower-1"
	addr2 := "127.0.0.2:9101"
	follower1 := newTestBackend(t, nodeID2, addr2, false, t.TempDir())
	defer func() {
		require.NoError(t, follower1.Shutdown())
	}()

	nodeID3 := "follower-2"
	addr3 := "127.0.0.3:9101"
	follower2 := newTestBackend(t, nodeID3, addr3, false, t.TempDir())
	defer func() {
		require.NoError(t, follower2.Shutdown())
	}()

	waitForLeadership(t, leader)

	status, err := leader.ClusterStatus()
	require.NoError(t, err)
	require.Equal(t, nodeID1, status.Leader)
	require.Equal(t, map[string]string{nodeID1: addr1}, status.Members)

	require.NoError(t, leader.JoinCluster(context.TODO(), nodeID2, addr2))
	require.NoError(t, leader.JoinCluster(context.TODO(), nodeID3, addr3))
	status, err = leader.ClusterStatus()
	require.NoError(t, err)
	require.Equal(t, map[string]string{nodeID1: addr1, nodeID2: addr2, nodeID3: addr3}, status.Members)

	// Joining again with the same ID and address is a no-op.
	require.NoError(t, leader.JoinCluster(context.TODO(), nodeID2, addr2))

	// A node that reuses the ID or address of an existing node is rejected.
	require.ErrorIs(t, leader.JoinCluster(context.TODO(), nodeID2, addr3), ErrNodeExists)

	// Followers replicate registry changes but cannot propose them.
	_, err = leader.AddMember(context.TODO(), "root", "alice")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return follower1.Size() == 1 && follower2.Size() == 1
	}, leaderTimeout, 10*time.Millisecond)
	_, err = follower1.AddMember(context.TODO(), "root", "bob")
	require.ErrorIs(t, err, ErrNotLeader)
	_, err = follower1.Members(context.TODO())
	require.ErrorIs(t, err, ErrNotLeader)

	require.NoError(t, leader.RemoveFromCluster(context.TODO(), nodeID3))
	require.NoError(t, leader.RemoveFromCluster(context.TODO(), nodeID2))
	require.NoError(t, leader.RemoveFromCluster(context.TODO(), "unknown"))
	status, err = leader.ClusterStatus()
	require.NoError(t, err)
	require.Equal(t, map[string]string{nodeID1: addr1}, status.Members)
}

func TestAddRemoveMember(t *testing.T) {
	leader := newTestBackend(t, "leader", "127.0.0.1:9102", true, t.TempDir())
	defer func() {
		require.NoError(t, leader.Shutdown())
	}()
	waitForLeadership(t, leader)

	members, err := leader.Members(context.TODO())
	require.NoError(t, err)
	require.Empty(t, members)

	members, err = leader.AddMember(context.TODO(), "root", "alice")
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"alice"}, members)
	members, err = leader.AddMember(context.TODO(), "root", "bob")
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"alice", "bob"}, members)

	_, err = leader.AddMember(context.TODO(), "root", "carol")
	require.ErrorIs(t, err, registry.ErrMembersLimitExceeded)
	_, err = leader.AddMember(context.TODO(), "", "carol")
	require.ErrorIs(t, err, registry.ErrNotAuthorized)

	members, err = leader.RemoveMember(context.TODO(), "root", "alice")
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"bob"}, members)
	_, err = leader.RemoveMember(context.TODO(), "root", "alice")
	require.ErrorIs(t, err, registry.ErrMemberNotFound)

	members, err = leader.Members(context.TODO())
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"bob"}, members)
	require.Equal(t, 1, leader.Size())
}

func TestRestartKeepsMembers(t *testing.T) {
	storeDir := t.TempDir()
	addr := "127.0.0.1:9103"

	node := newTestBackend(t, "node", addr, true, storeDir)
	waitForLeadership(t, node)
	_, err := node.AddMember(context.TODO(), "root", "alice")
	require.NoError(t, err)
	require.NoError(t, node.Shutdown())

	// Bootstrapping is skipped because the node already has raft state.
	node = newTestBackend(t, "node", addr, true, storeDir)
	defer func() {
		require.NoError(t, node.Shutdown())
	}()
	waitForLeadership(t, node)
	require.Eventually(t, func() bool {
		members, err := node.Members(context.TODO())
		return err == nil && len(members) == 1 && members[0] == "alice"
	}, leaderTimeout, 10*time.Millisecond)
}
