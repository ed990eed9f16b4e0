package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cepmachine/goTrust/token"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify bearer tokens",
		Long: `The 'token' command group signs and checks bearer tokens with
JWT_SECRET_KEY. A missing or short key is fatal.`,
	}

	var (
		subject  string
		email    string
		provider string
		ttl      time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for a principal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issuer, err := tokenIssuer()
			if err != nil {
				return err
			}
			claims := token.Claims{Subject: subject, Email: email, Provider: provider}
			var raw string
			if cmd.Flags().Changed("ttl") {
				raw, err = issuer.IssueWithTTL(claims, ttl)
			} else {
				raw, err = issuer.Issue(claims)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	issue.Flags().StringVar(&subject, "sub", "", "principal id")
	issue.Flags().StringVar(&email, "email", "", "principal email")
	issue.Flags().StringVar(&provider, "provider", "", "identity provider name")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (defaults to JWT_EXPIRE_MINUTES)")
	_ = issue.MarkFlagRequired("sub")
	cmd.AddCommand(issue)

	cmd.AddCommand(&cobra.Command{
		Use:   "verify TOKEN",
		Short: "Verify TOKEN and print its claims as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := tokenIssuer()
			if err != nil {
				return err
			}
			claims, err := issuer.Verify(args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Subject   string    `json:"sub"`
				Email     string    `json:"email,omitempty"`
				Provider  string    `json:"provider,omitempty"`
				ID        string    `json:"jti"`
				IssuedAt  time.Time `json:"iat"`
				ExpiresAt time.Time `json:"exp"`
			}{claims.Subject, claims.Email, claims.Provider, claims.ID, claims.IssuedAt, claims.ExpiresAt})
		},
	})

	return cmd
}

func tokenIssuer() (*token.Issuer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return token.NewIssuer(cfg.Token.IssuerConfig())
}
