package client

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/jmsadair/roster/api"
	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/registry"
	"github.com/jmsadair/roster/server"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeNode serves requests only when it is the leader.
type fakeNode struct {
	mu      sync.Mutex
	leader  bool
	members []registry.Identity
	tokens  []string
	calls   int
	// Returned by every call when set.
	err error
}

func (n *fakeNode) serve(caller registry.Caller) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.err != nil {
		return n.err
	}
	if !n.leader {
		return consensus.ErrNotLeader
	}
	n.tokens = append(n.tokens, caller.Token)
	return nil
}

func (n *fakeNode) AddMember(_ context.Context, caller registry.Caller, member registry.Identity) error {
	if err := n.serve(caller); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.members) == 1 {
		return registry.ErrMembersLimitExceeded
	}
	n.members = append(n.members, member)
	return nil
}

func (n *fakeNode) RemoveMember(_ context.Context, caller registry.Caller, member registry.Identity) error {
	if err := n.serve(caller); err != nil {
		return err
	}
	return registry.ErrMemberNotFound
}

func (n *fakeNode) Members(context.Context) ([]registry.Identity, error) {
	if err := n.serve(registry.Caller{}); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]registry.Identity{}, n.members...), nil
}

func (n *fakeNode) Events(_ context.Context, from registry.Timestamp, _ int) ([]registry.Event, error) {
	return []registry.Event{registry.NewMemberAddedEvent(from, "alice")}, nil
}

func (n *fakeNode) JoinCluster(_ context.Context, caller registry.Caller, _, _ string) error {
	return n.serve(caller)
}

func (n *fakeNode) RemoveFromCluster(_ context.Context, caller registry.Caller, _ string) error {
	return n.serve(caller)
}

func (n *fakeNode) ClusterStatus(context.Context) (consensus.Status, error) {
	return consensus.Status{Leader: "leader", Members: map[string]string{"leader": "leader:9000", "follower": "follower:9000"}}, nil
}

func (n *fakeNode) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

// newTestCluster serves each node on an in-memory listener that is dialed by its name.
func newTestCluster(t *testing.T, nodes map[string]*fakeNode) []grpc.DialOption {
	listeners := make(map[string]*bufconn.Listener, len(nodes))
	for name, n := range nodes {
		listener := bufconn.Listen(1 << 20)
		srv := grpc.NewServer()
		api.RegisterRegistryServer(srv, server.NewServer(name, n))
		go srv.Serve(listener)
		t.Cleanup(srv.Stop)
		listeners[name] = listener
	}
	dialer := func(ctx context.Context, address string) (net.Conn, error) {
		listener, ok := listeners[address]
		if !ok {
			return nil, net.UnknownNetworkError(address)
		}
		return listener.DialContext(ctx)
	}
	return []grpc.DialOption{
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(nil)
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestFailover(t *testing.T) {
	follower := &fakeNode{}
	leader := &fakeNode{leader: true}
	dialOpts := newTestCluster(t, map[string]*fakeNode{"follower": follower, "leader": leader})

	c, err := NewClient([]string{"passthrough:///follower", "passthrough:///leader"}, dialOpts...)
	require.NoError(t, err)
	defer c.Close()
	c = c.WithToken("abc")

	// The follower rejects the request and the leader serves it.
	require.NoError(t, c.AddMember(context.Background(), "alice"))
	require.Equal(t, 1, follower.Calls())
	require.Equal(t, 1, leader.Calls())
	require.Equal(t, []string{"abc"}, leader.tokens)

	// The leader is remembered, so the follower is not asked again.
	members, err := c.Members(context.Background())
	require.NoError(t, err)
	require.Equal(t, []registry.Identity{"alice"}, members)
	require.Equal(t, 1, follower.Calls())

	// Registry rejections are translated back to their sentinels.
	require.ErrorIs(t, c.AddMember(context.Background(), "bob"), registry.ErrMembersLimitExceeded)
	require.ErrorIs(t, c.RemoveMember(context.Background(), "bob"), registry.ErrMemberNotFound)

	evs, err := c.Events(context.Background(), 4, 0)
	require.NoError(t, err)
	require.Equal(t, []registry.Event{registry.NewMemberAddedEvent(4, "alice")}, evs)

	require.NoError(t, c.JoinCluster(context.Background(), "node-3", "node-3:9000"))
	require.NoError(t, c.RemoveFromCluster(context.Background(), "node-3"))
	st, err := c.ClusterStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, "leader", st.Leader)
}

func TestNoLeader(t *testing.T) {
	dialOpts := newTestCluster(t, map[string]*fakeNode{"a": {}, "b": {}})
	c, err := NewClient([]string{"passthrough:///a", "passthrough:///b"}, dialOpts...)
	require.NoError(t, err)
	defer c.Close()

	require.ErrorIs(t, c.AddMember(context.Background(), "alice"), consensus.ErrNotLeader)
}

func TestUnreachableEndpoint(t *testing.T) {
	leader := &fakeNode{leader: true}
	dialOpts := newTestCluster(t, map[string]*fakeNode{"leader": leader})
	c, err := NewClient([]string{"passthrough:///missing", "passthrough:///leader"}, dialOpts...)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.AddMember(context.Background(), "alice"))
	require.Equal(t, 1, leader.Calls())
}

func TestLeadershipLostIsNotRetried(t *testing.T) {
	deposed := &fakeNode{err: consensus.ErrLeadershipLost}
	leader := &fakeNode{leader: true}
	dialOpts := newTestCluster(t, map[string]*fakeNode{"deposed": deposed, "leader": leader})
	c, err := NewClient([]string{"passthrough:///deposed", "passthrough:///leader"}, dialOpts...)
	require.NoError(t, err)
	defer c.Close()

	// The entry may still commit, so sending it again could add the member twice.
	require.ErrorIs(t, c.AddMember(context.Background(), "alice"), consensus.ErrLeadershipLost)
	require.ErrorIs(t, c.RemoveMember(context.Background(), "alice"), consensus.ErrLeadershipLost)
	require.Equal(t, 2, deposed.Calls())
	require.Equal(t, 0, leader.Calls())

	// Reads are safe to send again.
	_, err = c.Members(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, leader.Calls())
}
