package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/jmsadair/roster/api"
	"github.com/jmsadair/roster/internal/transport"
	"github.com/jmsadair/roster/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// NewHTTPGateway creates a gateway that serves the registry service as a JSON API on listen.
// Metrics gathered from gatherer are served on /metrics when it is not nil.
func NewHTTPGateway(listen string, gRPCAddr string, gatherer prometheus.Gatherer, dialOpts ...grpc.DialOption) *transport.HTTPGateway {
	return transport.NewHTTPGateway(listen, gRPCAddr, func(ctx context.Context, mux *runtime.ServeMux, conn grpc.ClientConnInterface) error {
		return RegisterRoutes(mux, api.NewRegistryClient(conn), gatherer)
	}, dialOpts...)
}

// RegisterRoutes registers the JSON API routes that translate to calls on client.
func RegisterRoutes(mux *runtime.ServeMux, client api.RegistryClient, gatherer prometheus.Gatherer) error {
	g := &gateway{mux: mux, client: client}
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/members", g.getMembers},
		{http.MethodPost, "/v1/members", g.addMember},
		{http.MethodDelete, "/v1/members/{identity}", g.removeMember},
		{http.MethodGet, "/v1/events", g.listEvents},
		{http.MethodGet, "/v1/cluster", g.clusterStatus},
		{http.MethodPost, "/v1/cluster", g.joinCluster},
		{http.MethodDelete, "/v1/cluster/{id}", g.removeFromCluster},
	}
	for _, route := range routes {
		if err := mux.HandlePath(route.method, route.pattern, route.handler); err != nil {
			return err
		}
	}

	if gatherer == nil {
		return nil
	}
	metrics := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return mux.HandlePath(http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		metrics.ServeHTTP(w, r)
	})
}

type gateway struct {
	mux    *runtime.ServeMux
	client api.RegistryClient
}

func (g *gateway) getMembers(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.GetMembersMethod, "/v1/members")
	if !ok {
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.GetMembers(ctx, &emptypb.Empty{}, grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) addMember(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.AddMemberMethod, "/v1/members")
	if !ok {
		return
	}
	body, ok := g.decodeBody(ctx, outbound, w, r)
	if !ok {
		return
	}
	identity := body.GetFields()["identity"].GetStringValue()
	var md runtime.ServerMetadata
	resp, err := g.client.AddMember(ctx, wrapperspb.String(identity), grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) removeMember(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.RemoveMemberMethod, "/v1/members/{identity}")
	if !ok {
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.RemoveMember(ctx, wrapperspb.String(pathParams["identity"]), grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) listEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.ListEventsMethod, "/v1/events")
	if !ok {
		return
	}
	query := r.URL.Query()
	from, err := queryUint(query.Get("from"))
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, api.ErrGRPCInvalidEventsRequest)
		return
	}
	limit, err := queryUint(query.Get("limit"))
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, api.ErrGRPCInvalidEventsRequest)
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.ListEvents(ctx, api.EventsRequest(registry.Timestamp(from), int(limit)), grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) clusterStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.ClusterStatusMethod, "/v1/cluster")
	if !ok {
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.ClusterStatus(ctx, &emptypb.Empty{}, grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) joinCluster(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.JoinClusterMethod, "/v1/cluster")
	if !ok {
		return
	}
	body, ok := g.decodeBody(ctx, outbound, w, r)
	if !ok {
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.JoinCluster(ctx, body, grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

func (g *gateway) removeFromCluster(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	ctx, outbound, ok := g.annotate(w, r, api.RemoveFromClusterMethod, "/v1/cluster/{id}")
	if !ok {
		return
	}
	var md runtime.ServerMetadata
	resp, err := g.client.RemoveFromCluster(ctx, wrapperspb.String(pathParams["id"]), grpc.Header(&md.HeaderMD), grpc.Trailer(&md.TrailerMD))
	g.forward(runtime.NewServerMetadataContext(ctx, md), outbound, w, r, resp, err)
}

// annotate forwards the request headers, including the bearer token, as outgoing gRPC metadata.
func (g *gateway) annotate(w http.ResponseWriter, r *http.Request, method string, pattern string) (context.Context, runtime.Marshaler, bool) {
	_, outbound := runtime.MarshalerForRequest(g.mux, r)
	ctx, err := runtime.AnnotateContext(r.Context(), g.mux, r, method, runtime.WithHTTPPathPattern(pattern))
	if err != nil {
		runtime.HTTPError(r.Context(), g.mux, outbound, w, r, err)
		return nil, nil, false
	}
	return ctx, outbound, true
}

func (g *gateway) decodeBody(ctx context.Context, outbound runtime.Marshaler, w http.ResponseWriter, r *http.Request) (*structpb.Struct, bool) {
	inbound, _ := runtime.MarshalerForRequest(g.mux, r)
	body := &structpb.Struct{}
	if err := inbound.NewDecoder(r.Body).Decode(body); err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, status.Errorf(codes.InvalidArgument, "%v", err))
		return nil, false
	}
	return body, true
}

func (g *gateway) forward(ctx context.Context, outbound runtime.Marshaler, w http.ResponseWriter, r *http.Request, resp proto.Message, err error) {
	if err != nil {
		runtime.HTTPError(ctx, g.mux, outbound, w, r, err)
		return
	}
	runtime.ForwardResponseMessage(ctx, g.mux, outbound, w, r, resp)
}

func queryUint(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
