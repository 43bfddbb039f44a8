package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/reciperank/internal/auth"
	"github.com/dukerupert/reciperank/internal/config"
)

// newTokenCmd mints a bearer token signed with the shared secret so the API
// can be exercised locally without the external auth provider.
func newTokenCmd() *cobra.Command {
	var (
		subject string
		email   string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(envFile(cmd))
			if err != nil {
				return err
			}
			if !cfg.IsDevelopment() {
				return errors.New("token is only available in development")
			}
			if cfg.Auth.JWTSecret == "" {
				return errors.New("RECIPERANK_AUTH_JWT_SECRET is not set")
			}
			tok, err := auth.IssueToken(cfg.Auth.JWTSecret, subject, email, cfg.Auth.Issuer, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev-user", "account ID carried in the sub claim")
	cmd.Flags().StringVar(&email, "email", "dev@example.com", "email claim, used when provisioning the account")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
