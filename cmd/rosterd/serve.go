package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmsadair/roster"
	"github.com/jmsadair/roster/internal/telemetry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const telemetryShutdownTimeout = 5 * time.Second

type serveConfig struct {
	ID                  string        `mapstructure:"id"`
	GRPCListen          string        `mapstructure:"grpc-listen"`
	HTTPListen          string        `mapstructure:"http-listen"`
	RaftListen          string        `mapstructure:"raft-listen"`
	RaftAdvertise       string        `mapstructure:"raft-advertise"`
	StoragePath         string        `mapstructure:"storage-path"`
	SnapshotStoragePath string        `mapstructure:"snapshot-storage-path"`
	EventsPath          string        `mapstructure:"events-path"`
	Bootstrap           bool          `mapstructure:"bootstrap"`
	MaxMembers          uint32        `mapstructure:"max-members"`
	RootIdentity        string        `mapstructure:"root-identity"`
	SudoOnly            bool          `mapstructure:"sudo-only"`
	JWTSigningKey       string        `mapstructure:"jwt-signing-key"`
	JWTIssuer           string        `mapstructure:"jwt-issuer"`
	JWTAudience         string        `mapstructure:"jwt-audience"`
	JWTCacheTTL         time.Duration `mapstructure:"jwt-cache-ttl"`
	KafkaBrokers        []string      `mapstructure:"kafka-brokers"`
	KafkaTopic          string        `mapstructure:"kafka-topic"`
	RaftLogLevel        string        `mapstructure:"raft-log-level"`
	OTLPEndpoint        string        `mapstructure:"otlp-endpoint"`
	LogLevel            string        `mapstructure:"log-level"`
}

func (c serveConfig) service(log *slog.Logger) roster.ServiceConfig {
	return roster.ServiceConfig{
		ID:                  c.ID,
		RaftAdvertise:       c.RaftAdvertise,
		RaftListen:          c.RaftListen,
		HTTPListen:          c.HTTPListen,
		GRPCListen:          c.GRPCListen,
		StoragePath:         c.StoragePath,
		SnapshotStoragePath: c.SnapshotStoragePath,
		EventsPath:          c.EventsPath,
		Bootstrap:           c.Bootstrap,
		MaxMembers:          c.MaxMembers,
		RootIdentity:        c.RootIdentity,
		SudoOnly:            c.SudoOnly,
		JWTSigningKey:       c.JWTSigningKey,
		JWTIssuer:           c.JWTIssuer,
		JWTAudience:         c.JWTAudience,
		JWTCacheTTL:         c.JWTCacheTTL,
		KafkaBrokers:        c.KafkaBrokers,
		KafkaTopic:          c.KafkaTopic,
		RaftLogLevel:        c.RaftLogLevel,
		DialOptions:         []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		Log:                 log,
	}
}

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a roster node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cfg serveConfig
			if err := v.Unmarshal(&cfg); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("id", "", "unique ID of this node")
	f.String("grpc-listen", "127.0.0.1:8081", "address to serve gRPC on")
	f.String("http-listen", "127.0.0.1:8080", "address to serve the HTTP gateway on")
	f.String("raft-listen", "127.0.0.1:8082", "address raft listens on")
	f.String("raft-advertise", "", "address raft advertises to the cluster (defaults to raft-listen)")
	f.String("storage-path", "data/raft", "directory for the raft log")
	f.String("snapshot-storage-path", "data/snapshots", "directory for raft snapshots")
	f.String("events-path", "data/events", "directory for the membership event journal")
	f.Bool("bootstrap", false, "bootstrap a new cluster with this node as its only member")
	f.Uint32("max-members", 0, "maximum number of entries in the member list")
	f.String("root-identity", "", "privileged identity that administers the cluster and may never be a member")
	f.Bool("sudo-only", false, "only allow the root identity to add and remove members")
	f.String("jwt-signing-key", "", "HMAC key used to verify caller tokens")
	f.String("jwt-issuer", "", "expected token issuer")
	f.String("jwt-audience", "", "expected token audience")
	f.Duration("jwt-cache-ttl", time.Minute, "how long a verified token is remembered")
	f.StringSlice("kafka-brokers", nil, "Kafka brokers to publish membership changes to")
	f.String("kafka-topic", "roster.events", "Kafka topic to publish membership changes to")
	f.String("raft-log-level", "warn", "raft log level")
	f.String("otlp-endpoint", "", "OTLP/HTTP endpoint to export traces to (tracing is disabled if empty)")
	return cmd
}

func serve(ctx context.Context, cfg serveConfig) error {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Setup(ctx, "rosterd", cfg.ID, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Error("failed to flush traces", "error", err)
		}
	}()

	srv, err := roster.NewService(cfg.service(log))
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
