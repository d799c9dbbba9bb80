package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmsadair/roster/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const envPrefix = "ROSTER"

// newRootCmd builds the rosterd command tree. Every flag can also be set through a
// ROSTER_ prefixed environment variable or a YAML config file.
func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "rosterd",
		Short:         "A replicated, capacity-bounded membership registry",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(v, cmd)
		},
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCmd(v),
		newTokenCmd(v),
		newMembersCmd(v),
		newEventsCmd(v),
		newClusterCmd(v),
	)
	return root
}

func loadConfig(v *viper.Viper, cmd *cobra.Command) error {
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// addClientFlags adds the flags shared by every command that talks to a running cluster.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringSlice("endpoints", []string{"127.0.0.1:8081"}, "gRPC addresses of the cluster nodes")
	cmd.PersistentFlags().String("token", "", "bearer token identifying the caller")
}

func newClient(v *viper.Viper) (*client.Client, error) {
	c, err := client.NewClient(
		v.GetStringSlice("endpoints"),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}
	return c.WithToken(v.GetString("token")), nil
}
