package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/reportgraph/internal/server"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API bearer token signed with auth.jwt_secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.settings.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not configured")
			}
			auth, err := server.NewAuthenticator(a.settings.JWTSecret)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
