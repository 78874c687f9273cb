package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"examportal/internal/auth"
	"examportal/internal/model"
)

// newTokenCmd mints a bearer token for an existing user. Identity proofing
// lives outside this service; the command covers local testing and ops.
func newTokenCmd() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token [user-id]",
		Short: "Mint an access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			if !model.Role(role).Valid() {
				return fmt.Errorf("unknown role %q", role)
			}
			token, err := auth.NewAccessToken(cfg.JWTSecret, cfg.JWTIssuer, ttl, auth.Claims{
				UserID: userID.String(),
				Role:   role,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleStandard), "role claim (ADMIN or STANDARD)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
