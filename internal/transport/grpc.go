package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/jmsadair/roster/internal/lru"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

const defaultCacheCapacity = 50

// ServiceRegistrar registers services on a grpc.Server.
type ServiceRegistrar func(server *grpc.Server)

// Server runs a gRPC server until its context is cancelled.
type Server struct {
	Address  string
	register ServiceRegistrar
	opts     []grpc.ServerOption
}

// NewServer creates a new gRPC server for the address. The registrar is called once the server is created.
func NewServer(address string, register ServiceRegistrar, opts ...grpc.ServerOption) *Server {
	return &Server{
		Address:  address,
		register: register,
		opts:     opts,
	}
}

// Run listens on the server address and serves until the context is cancelled, then stops gracefully.
func (s *Server) Run(ctx context.Context) error {
	resolved, err := net.ResolveTCPAddr("tcp", s.Address)
	if err != nil {
		return err
	}

	listener, err := net.Listen(resolved.Network(), resolved.String())
	if err != nil {
		return err
	}

	srv := grpc.NewServer(s.opts...)
	s.register(srv)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		srv.GracefulStop()
		return nil
	})

	return g.Wait()
}

type cachedClient[T any] struct {
	client T
	conn   *grpc.ClientConn
}

// ClientFactory wraps a connection into a typed client.
type ClientFactory[T any] func(conn grpc.ClientConnInterface) T

// ClientCache holds typed clients keyed by address. The least recently used client is evicted
// once the cache is full, and the connection of an evicted client is closed.
type ClientCache[T any] struct {
	mu       sync.Mutex
	clients  *lru.Cache[string, *cachedClient[T]]
	dialOpts []grpc.DialOption
	factory  ClientFactory[T]
}

// NewClientCache creates a new client cache with the provided dial options and client factory.
func NewClientCache[T any](factory ClientFactory[T], dialOpts ...grpc.DialOption) *ClientCache[T] {
	closeOnEvict := func(_ string, cc *cachedClient[T]) {
		cc.conn.Close()
	}
	return &ClientCache[T]{
		clients:  lru.New(defaultCacheCapacity, closeOnEvict),
		dialOpts: dialOpts,
		factory:  factory,
	}
}

// GetOrCreate returns the cached client for the address, creating one if there is none.
func (c *ClientCache[T]) GetOrCreate(address string) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.clients.Get(address); ok {
		return cc.client, nil
	}

	conn, err := grpc.NewClient(address, c.dialOpts...)
	if err != nil {
		var zero T
		return zero, err
	}

	client := c.factory(conn)
	c.clients.Set(address, &cachedClient[T]{conn: conn, client: client})
	return client, nil
}

// WaitReady connects the cached client for the address and blocks until the connection is ready.
// An error is returned if the connection fails or the context is done first.
func (c *ClientCache[T]) WaitReady(ctx context.Context, address string) error {
	c.mu.Lock()
	cc, ok := c.clients.Get(address)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no client for %s", address)
	}

	cc.conn.Connect()
	for {
		state := cc.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.TransientFailure, connectivity.Shutdown:
			return fmt.Errorf("transport: connection to %s is %s", address, state)
		}
		if !cc.conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// Evict closes and forgets the client for the address, if there is one.
func (c *ClientCache[T]) Evict(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients.Remove(address)
}

// Close closes every cached client.
func (c *ClientCache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients.Purge()
}

// Len returns the number of cached clients.
func (c *ClientCache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients.Len()
}
