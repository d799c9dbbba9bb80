package client

import (
	"context"
	"errors"
	"sync"

	"github.com/jmsadair/roster/api"
	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/internal/transport"
	"github.com/jmsadair/roster/registry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ErrNoEndpoints is returned when a client is created without any endpoints.
var ErrNoEndpoints = errors.New("client: no endpoints")

// Client is a client for a roster cluster.
// Requests that reach a node which is not the leader are retried on the next endpoint.
// Member mutations are not idempotent, so they are only retried when the node refused them
// before proposing; a leadership change after proposing is returned to the caller.
type Client struct {
	endpoints []string
	cache     *transport.ClientCache[api.RegistryClient]
	token     string
	// Index of the endpoint that last served a request.
	current int
	mu      sync.Mutex
}

// NewClient creates a client for the cluster reachable through the provided endpoints.
func NewClient(endpoints []string, dialOpts ...grpc.DialOption) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	return &Client{
		endpoints: endpoints,
		cache:     transport.NewClientCache(api.NewRegistryClient, dialOpts...),
	}, nil
}

// WithToken returns a copy of the client that authenticates requests with the bearer token.
// The copy shares connections with the original.
func (c *Client) WithToken(token string) *Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Client{endpoints: c.endpoints, cache: c.cache, token: token, current: c.current}
}

// Close closes the connections of the client.
func (c *Client) Close() {
	c.cache.Close()
}

// AddMember adds a member to the registry.
func (c *Client) AddMember(ctx context.Context, member registry.Identity) error {
	return c.mutate(ctx, func(ctx context.Context, client api.RegistryClient) error {
		_, err := client.AddMember(ctx, wrapperspb.String(string(member)))
		return err
	})
}

// RemoveMember removes a member from the registry.
func (c *Client) RemoveMember(ctx context.Context, member registry.Identity) error {
	return c.mutate(ctx, func(ctx context.Context, client api.RegistryClient) error {
		_, err := client.RemoveMember(ctx, wrapperspb.String(string(member)))
		return err
	})
}

// Members returns the member list.
func (c *Client) Members(ctx context.Context) ([]registry.Identity, error) {
	var members []registry.Identity
	err := c.do(ctx, func(ctx context.Context, client api.RegistryClient) error {
		resp, err := client.GetMembers(ctx, &emptypb.Empty{})
		if err != nil {
			return err
		}
		members, err = api.MembersFromProto(resp)
		return err
	})
	return members, err
}

// Events returns up to limit events with a timestamp of at least from.
// A limit of zero returns every such event.
func (c *Client) Events(ctx context.Context, from registry.Timestamp, limit int) ([]registry.Event, error) {
	var evs []registry.Event
	err := c.do(ctx, func(ctx context.Context, client api.RegistryClient) error {
		resp, err := client.ListEvents(ctx, api.EventsRequest(from, limit))
		if err != nil {
			return err
		}
		evs, err = api.EventsFromProto(resp)
		return err
	})
	return evs, err
}

// JoinCluster adds a node to the raft cluster.
func (c *Client) JoinCluster(ctx context.Context, id, address string) error {
	return c.do(ctx, func(ctx context.Context, client api.RegistryClient) error {
		_, err := client.JoinCluster(ctx, api.JoinRequest(id, address))
		return err
	})
}

// RemoveFromCluster removes a node from the raft cluster.
func (c *Client) RemoveFromCluster(ctx context.Context, id string) error {
	return c.do(ctx, func(ctx context.Context, client api.RegistryClient) error {
		_, err := client.RemoveFromCluster(ctx, wrapperspb.String(id))
		return err
	})
}

// ClusterStatus returns the nodes in the raft cluster and the current leader.
func (c *Client) ClusterStatus(ctx context.Context) (consensus.Status, error) {
	var clusterStatus consensus.Status
	err := c.do(ctx, func(ctx context.Context, client api.RegistryClient) error {
		resp, err := client.ClusterStatus(ctx, &emptypb.Empty{})
		if err != nil {
			return err
		}
		clusterStatus = api.StatusFromProto(resp)
		return nil
	})
	return clusterStatus, err
}

// do calls fn against each endpoint in turn, starting with the one that last succeeded,
// until a node other than a follower answers.
func (c *Client) do(ctx context.Context, fn func(ctx context.Context, client api.RegistryClient) error) error {
	return c.each(ctx, false, fn)
}

// mutate is like do, but fn is only sent to endpoints that are connected and only retried
// if the node rejected it as a follower.
func (c *Client) mutate(ctx context.Context, fn func(ctx context.Context, client api.RegistryClient) error) error {
	return c.each(ctx, true, fn)
}

func (c *Client) each(ctx context.Context, mutation bool, fn func(ctx context.Context, client api.RegistryClient) error) error {
	ctx = api.WithToken(ctx, c.token)

	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	var err error
	for i := range c.endpoints {
		index := (start + i) % len(c.endpoints)
		endpoint := c.endpoints[index]
		var client api.RegistryClient
		client, err = c.cache.GetOrCreate(endpoint)
		if err != nil {
			continue
		}
		if mutation {
			if err = c.cache.WaitReady(ctx, endpoint); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
		}
		err = fn(ctx, client)
		if retryable(err, mutation) {
			continue
		}
		if err == nil {
			c.mu.Lock()
			c.current = index
			c.mu.Unlock()
		}
		return api.FromStatus(err)
	}
	return api.FromStatus(err)
}

// retryable reports whether another endpoint may be able to serve a request that failed with err.
func retryable(err error, mutation bool) bool {
	if mutation {
		return errors.Is(api.FromStatus(err), consensus.ErrNotLeader)
	}
	if api.IsNotLeader(err) {
		return true
	}
	// An unavailable status that does not come from the service means the endpoint could not be reached.
	return status.Code(err) == codes.Unavailable && api.FromStatus(err) == err
}
