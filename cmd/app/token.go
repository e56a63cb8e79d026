package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"votebridge/pkg/security"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token signed with security.admin_secret",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Security.AdminSecret == "" {
			return errors.New("security.admin_secret is not configured")
		}

		tm, err := security.NewTokenManager(cfg.Security.AdminSecret, cfg.Security.TokenExpiry)
		if err != nil {
			return err
		}
		token, err := tm.Issue(tokenSubject, tokenTTL)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), token.Value)
		fmt.Fprintf(cmd.ErrOrStderr(), "subject=%s expires=%s\n", token.Subject, token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to security.token_expiry)")
}
