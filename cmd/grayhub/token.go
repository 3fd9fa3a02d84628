package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		subject string
		name    string
		ttl     time.Duration
		static  bool
		hash    string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token",
		Long: `Issue an access token for the REST and WebSocket API.

By default a JWT signed with security.jwt.secret is printed. With --static a
random long-lived token is generated along with its argon2id hash for the
security.tokens list. --hash hashes an existing token instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			switch {
			case hash != "":
				encoded, err := auth.HashToken(hash)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, encoded)
				return nil

			case static:
				tok, err := auth.GenerateStaticToken()
				if err != nil {
					return err
				}
				encoded, err := auth.HashToken(tok)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "token: %s\nhash:  %s\n", tok, encoded)
				return nil
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ttl == 0 {
				ttl = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
			}
			tok, err := auth.GenerateAccessToken(subject, name, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, tok)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "token subject, reported as the event context user_id")
	cmd.Flags().StringVar(&name, "name", "", "display name stored in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	cmd.Flags().BoolVar(&static, "static", false, "generate a random static token and its hash")
	cmd.Flags().StringVar(&hash, "hash", "", "print the argon2id hash of this token")
	cmd.MarkFlagsMutuallyExclusive("static", "hash")
	return cmd
}
