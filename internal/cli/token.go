package cli

import (
	"errors"
	"fmt"
	"time"

	"milestone-reconciler/internal/auth"

	"github.com/spf13/cobra"
)

func newTokenCmd(opts *options) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a user access token for /scheduler/status and /milestones/recompute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			verifier := auth.NewTokenVerifier(cfg.Auth.JWTSecret)
			if !verifier.Enabled() {
				return errors.New("auth.jwt_secret is not configured")
			}
			token, err := verifier.GenerateToken(userID, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to put in the user_id claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
