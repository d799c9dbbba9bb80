package roster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jmsadair/roster/auth"
	"github.com/jmsadair/roster/consensus"
	"github.com/jmsadair/roster/events"
	"github.com/jmsadair/roster/internal/transport"
	"github.com/jmsadair/roster/metrics"
	"github.com/jmsadair/roster/node"
	"github.com/jmsadair/roster/registry"
	"github.com/jmsadair/roster/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

const kafkaCloseTimeout = 5 * time.Second

// ServiceConfig contains the configurations for a roster service.
type ServiceConfig struct {
	// ID that uniquely identifies this service instance.
	ID string
	// Address that raft will advertise to other members of the cluster.
	RaftAdvertise string
	// Address that raft will listen for incoming requests on.
	RaftListen string
	// Address that the service will listen for incoming HTTP requests on.
	HTTPListen string
	// Address that the service will listen for incoming RPCs on.
	GRPCListen string
	// Path to where a service will store on-disk raft logs.
	StoragePath string
	// Path to where a service will store on-disk raft snapshots.
	SnapshotStoragePath string
	// Path to where a service will store the history of membership changes.
	EventsPath string
	// Whether or not to bootstrap a new raft cluster.
	Bootstrap bool
	// The maximum number of entries in the member list. Must be identical on every node.
	MaxMembers uint32
	// The privileged identity. It can never be a member and is the only identity allowed to change the
	// raft cluster. Must be identical on every node.
	RootIdentity string
	// Whether only the root identity may add and remove members. Must be identical on every node.
	SudoOnly bool
	// The HMAC key used to verify caller tokens.
	JWTSigningKey string
	// The expected issuer of caller tokens. Empty disables the check.
	JWTIssuer string
	// The expected audience of caller tokens. Empty disables the check.
	JWTAudience string
	// How long a verified token is remembered.
	JWTCacheTTL time.Duration
	// Kafka brokers that membership changes are published to. Publishing is disabled if empty.
	KafkaBrokers []string
	// The Kafka topic that membership changes are published to.
	KafkaTopic string
	// The level raft logs at.
	RaftLogLevel string
	// gRPC dial options the HTTP gateway will use when calling the gRPC server.
	DialOptions []grpc.DialOption
	// Registry the service metrics are registered with. A new registry is created if nil.
	Metrics *prometheus.Registry
	// Logger that a service will use for logging.
	Log *slog.Logger
}

// Service is the roster service.
type Service struct {
	// HTTP gateway implementation.
	HTTPGateway *transport.HTTPGateway
	// gRPC server implementation.
	GRPCServer *server.RPCServer
	// The raft consensus protocol implementation.
	Raft *consensus.Backend
	// The node implementation.
	Node *node.Node
	// Verifies and issues caller tokens.
	JWT *auth.JWT
	// The history of membership changes.
	Journal *events.Journal
	// The service metrics.
	Metrics *metrics.Collector
	// The configuration for this service.
	Config  ServiceConfig
	kafka   *events.Kafka
	closers []func() error
}

// NewService creates a new roster service.
func NewService(cfg ServiceConfig) (s *Service, err error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = prometheus.NewRegistry()
		cfg.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	if cfg.SudoOnly && cfg.RootIdentity == "" {
		return nil, errors.New("roster: sudo-only mode requires a root identity")
	}

	s = &Service{Config: cfg}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.JWT, err = auth.NewJWT(auth.JWTConfig{SigningKey: cfg.JWTSigningKey, Issuer: cfg.JWTIssuer, Audience: cfg.JWTAudience, CacheTTL: cfg.JWTCacheTTL})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() error { s.JWT.Close(); return nil })

	s.Journal, err = events.NewJournal(cfg.EventsPath, cfg.Log)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.Journal.Close)

	var fsm *consensus.FSM
	s.Metrics = metrics.NewCollector(cfg.Metrics, func() int { return fsm.Len() })
	sinks := events.Fanout{s.Journal, s.Metrics, events.NewLogSink(cfg.Log.With("local-id", cfg.ID))}
	if len(cfg.KafkaBrokers) > 0 {
		s.kafka, err = events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.Log)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), kafkaCloseTimeout)
			defer cancel()
			return s.kafka.Close(ctx)
		})
		sinks = append(sinks, s.kafka)
	}

	// Replicated commands carry identities that were verified by the proposing node.
	var applyChecker registry.AuthorizationChecker = auth.Signed{}
	if cfg.SudoOnly {
		applyChecker = auth.NewSudo(registry.Identity(cfg.RootIdentity), applyChecker)
	}
	registryCfg := registry.Config{MaxMembers: cfg.MaxMembers, Root: registry.Identity(cfg.RootIdentity)}
	fsm, err = consensus.NewFSM(registryCfg, applyChecker, sinks, cfg.Log)
	if err != nil {
		return nil, err
	}

	s.Raft, err = consensus.NewBackend(consensus.BackendConfig{
		ID:                  cfg.ID,
		BindAddress:         cfg.RaftListen,
		AdvertiseAddress:    cfg.RaftAdvertise,
		StoragePath:         cfg.StoragePath,
		SnapshotStoragePath: cfg.SnapshotStoragePath,
		Bootstrap:           cfg.Bootstrap,
		LogLevel:            hclog.LevelFromString(cfg.RaftLogLevel),
	}, fsm)
	if err != nil {
		return nil, err
	}

	var admin registry.AuthorizationChecker = s.JWT
	if cfg.RootIdentity != "" {
		admin = auth.NewSudo(registry.Identity(cfg.RootIdentity), s.JWT)
	}
	s.Node = node.NewNode(node.Config{
		ID:        cfg.ID,
		Consensus: s.Raft,
		Checker:   s.JWT,
		Admin:     admin,
		Events:    s.Journal,
		Observer:  s.Metrics,
		Log:       cfg.Log,
	})
	s.GRPCServer = server.NewServer(cfg.GRPCListen, s.Node, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	s.HTTPGateway = server.NewHTTPGateway(cfg.HTTPListen, cfg.GRPCListen, cfg.Metrics, cfg.DialOptions...)

	return s, nil
}

// Run runs the service until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Node.Run(ctx)
	})
	g.Go(func() error {
		return s.HTTPGateway.Run(ctx)
	})
	g.Go(func() error {
		return s.GRPCServer.Run(ctx)
	})
	s.Config.Log.InfoContext(
		ctx,
		"running roster service",
		"local-id",
		s.Config.ID,
		"http-listen",
		s.Config.HTTPListen,
		"grpc-listen",
		s.Config.GRPCListen,
		"raft-listen",
		s.Config.RaftListen,
		"max-members",
		s.Config.MaxMembers,
	)
	return g.Wait()
}

// close releases the resources of the service in the reverse order they were acquired.
func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.Config.Log.Error("failed to release service resource", "local-id", s.Config.ID, "error", err)
		}
	}
	s.closers = nil
}
