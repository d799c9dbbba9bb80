package main

import (
	"fmt"
	"time"

	"github.com/jmsadair/roster/auth"
	"github.com/jmsadair/roster/registry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newTokenCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage caller tokens",
	}

	issue := &cobra.Command{
		Use:   "issue IDENTITY",
		Short: "Issue a signed token for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := auth.NewJWT(auth.JWTConfig{
				SigningKey: v.GetString("jwt-signing-key"),
				Issuer:     v.GetString("jwt-issuer"),
				Audience:   v.GetString("jwt-audience"),
			})
			if err != nil {
				return err
			}
			defer j.Close()
			token, err := j.Issue(registry.Identity(args[0]), v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	f := issue.Flags()
	f.String("jwt-signing-key", "", "HMAC key used to sign the token")
	f.String("jwt-issuer", "", "token issuer")
	f.String("jwt-audience", "", "token audience")
	f.Duration("ttl", 24*time.Hour, "how long the token is valid")

	cmd.AddCommand(issue)
	return cmd
}
