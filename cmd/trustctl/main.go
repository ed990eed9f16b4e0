// Command trustctl is an operator tool for the goTrust primitives: TOTP
// secrets, backup codes, bearer tokens, password hashes and roles.
//
// Configuration comes from the same environment variables the engine reads
// (JWT_SECRET_KEY, MFA_*, PASSWORD_*, LOG_*).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	goTrust "github.com/cepmachine/goTrust"
	"github.com/spf13/cobra"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. Each call returns fresh commands so
// tests can run them independently.
func NewRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "Operate goTrust MFA, token and role primitives",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			slog.SetDefault(goTrust.NewLogger(cfg.Log, cmd.ErrOrStderr()))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(newTOTPCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newPasswordCmd())
	root.AddCommand(newRolesCmd())
	return root
}

// loadConfig reads the environment without validating it. Commands that sign
// or verify tokens validate the token section themselves.
func loadConfig() (goTrust.Config, error) {
	var cfg goTrust.Config
	if err := env.Parse(&cfg); err != nil {
		return goTrust.Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
