package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/cepmachine/goTrust/backup"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Generate and hash single-use backup codes",
	}

	var count int
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Print a fresh backup code set with the digests that would be stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count == 0 {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				count = cfg.MFA.BackupCodeCount
			}
			vault, err := backup.NewVault(count)
			if err != nil {
				return err
			}
			set, err := vault.Regenerate()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tDIGEST")
			for i, code := range set.Codes {
				fmt.Fprintf(w, "%s\t%s\n", code, set.Digests[i])
			}
			return w.Flush()
		},
	}
	generate.Flags().IntVar(&count, "count", 0, "number of codes (defaults to MFA_BACKUP_CODE_COUNT)")
	cmd.AddCommand(generate)

	cmd.AddCommand(&cobra.Command{
		Use:   "hash CODE",
		Short: "Print the stored digest of CODE after normalization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), backup.Hash(args[0]))
			return nil
		},
	})

	return cmd
}
