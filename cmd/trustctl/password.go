package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/cepmachine/goTrust/password"
	"github.com/spf13/cobra"
)

func newPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Hash and check argon2id password hashes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash",
		Short: "Read a password from stdin and print its PHC-encoded argon2id hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasher, err := argon2Hasher()
			if err != nil {
				return err
			}
			plain, err := readLine(cmd)
			if err != nil {
				return err
			}
			encoded, err := hasher.Hash(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify HASH",
		Short: "Read a password from stdin and check it against HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hasher, err := argon2Hasher()
			if err != nil {
				return err
			}
			plain, err := readLine(cmd)
			if err != nil {
				return err
			}
			ok, err := hasher.Verify(plain, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("password does not match")
			}
			upgrade, err := hasher.NeedsUpgrade(args[0])
			if err != nil {
				return err
			}
			if upgrade {
				fmt.Fprintln(cmd.OutOrStdout(), "ok (rehash recommended)")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	})

	return cmd
}

func argon2Hasher() (*password.Argon2, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return password.NewArgon2(cfg.Password)
}

func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
