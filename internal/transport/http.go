package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

const defaultShutdownTimeout = 500 * time.Millisecond

// GatewayRegistrar registers HTTP routes on the gateway mux.
// The connection reaches the gRPC service the gateway fronts.
type GatewayRegistrar func(ctx context.Context, mux *runtime.ServeMux, conn grpc.ClientConnInterface) error

// HTTPGateway translates a RESTful HTTP API into calls against a gRPC service.
type HTTPGateway struct {
	// Address of the gRPC service.
	GRPCAddress string
	// The listen address for the gateway.
	Listen string
	// The dial options that are used to reach the gRPC service.
	dialOpts []grpc.DialOption
	register GatewayRegistrar
	muxOpts  []runtime.ServeMuxOption
}

// NewHTTPGateway creates a new HTTP gateway for a given listen address, gRPC service address, and registration function.
func NewHTTPGateway(listen string, gRPCAddr string, register GatewayRegistrar, dialOpts ...grpc.DialOption) *HTTPGateway {
	return &HTTPGateway{
		GRPCAddress: gRPCAddr,
		Listen:      listen,
		register:    register,
		dialOpts:    dialOpts,
	}
}

// WithMuxOptions adds options to the mux the gateway serves.
func (s *HTTPGateway) WithMuxOptions(opts ...runtime.ServeMuxOption) *HTTPGateway {
	s.muxOpts = append(s.muxOpts, opts...)
	return s
}

// Handler builds the mux over an existing connection to the gRPC service.
// It serves /healthz from the standard gRPC health service.
func (s *HTTPGateway) Handler(ctx context.Context, conn grpc.ClientConnInterface) (http.Handler, error) {
	opts := append([]runtime.ServeMuxOption{runtime.WithHealthzEndpoint(grpc_health_v1.NewHealthClient(conn))}, s.muxOpts...)
	mux := runtime.NewServeMux(opts...)
	if err := s.register(ctx, mux, conn); err != nil {
		return nil, err
	}
	return mux, nil
}

// Run serves the gateway until the context is cancelled.
func (s *HTTPGateway) Run(ctx context.Context) error {
	cc, err := grpc.NewClient(s.GRPCAddress, s.dialOpts...)
	if err != nil {
		return err
	}
	defer cc.Close()

	handler, err := s.Handler(ctx, cc)
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: s.Listen, Handler: handler}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(ctx)
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}
