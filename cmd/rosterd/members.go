package main

import (
	"fmt"
	"sort"

	"github.com/jmsadair/roster/client"
	"github.com/jmsadair/roster/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// withClient runs fn with a client for the cluster named by the endpoints flag.
func withClient(v *viper.Viper, fn func(cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient(v)
		if err != nil {
			return err
		}
		defer c.Close()
		return fn(cmd, c, args)
	}
}

func newMembersCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "Manage the member list",
	}
	addClientFlags(cmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add IDENTITY",
			Short: "Append an identity to the member list",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, args []string) error {
				return c.AddMember(cmd.Context(), registry.Identity(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "remove IDENTITY",
			Short: "Remove the first occurrence of an identity from the member list",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, args []string) error {
				return c.RemoveMember(cmd.Context(), registry.Identity(args[0]))
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "Print the member list in insertion order",
			Args:  cobra.NoArgs,
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, _ []string) error {
				members, err := c.Members(cmd.Context())
				if err != nil {
					return err
				}
				for _, member := range members {
					fmt.Fprintln(cmd.OutOrStdout(), member)
				}
				return nil
			}),
		},
	)
	return cmd
}

func newEventsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print the history of membership changes",
		Args:  cobra.NoArgs,
		RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, _ []string) error {
			evs, err := c.Events(cmd.Context(), registry.Timestamp(v.GetUint64("from")), v.GetInt("limit"))
			if err != nil {
				return err
			}
			for _, event := range evs {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", event.Timestamp, event.Kind, event.Identity)
			}
			return nil
		}),
	}
	addClientFlags(cmd)
	cmd.Flags().Uint64("from", 0, "only print events with at least this timestamp")
	cmd.Flags().Int("limit", 0, "maximum number of events to print (0 prints all)")
	return cmd
}

func newClusterCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Manage the raft cluster",
	}
	addClientFlags(cmd)

	cmd.AddCommand(
		&cobra.Command{
			Use:   "join ID ADDRESS",
			Short: "Add a node to the raft cluster",
			Args:  cobra.ExactArgs(2),
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, args []string) error {
				return c.JoinCluster(cmd.Context(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "leave ID",
			Short: "Remove a node from the raft cluster",
			Args:  cobra.ExactArgs(1),
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, args []string) error {
				return c.RemoveFromCluster(cmd.Context(), args[0])
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the nodes of the raft cluster",
			Args:  cobra.NoArgs,
			RunE: withClient(v, func(cmd *cobra.Command, c *client.Client, _ []string) error {
				st, err := c.ClusterStatus(cmd.Context())
				if err != nil {
					return err
				}
				ids := make([]string, 0, len(st.Members))
				for id := range st.Members {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					role := "follower"
					if id == st.Leader {
						role = "leader"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, st.Members[id], role)
				}
				return nil
			}),
		},
	)
	return cmd
}
