package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/cepmachine/goTrust/internal/stores"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/spf13/cobra"
)

func newRolesCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Inspect system roles and manage custom roles",
		Long: `The 'roles' command group lists the built-in hierarchy
(viewer, operator, manager, admin) and custom roles. Custom roles are read
from and written to the SQLite database given by --sqlite.`,
	}
	cmd.PersistentFlags().StringVar(&dbPath, "sqlite", "", "SQLite database holding custom roles")

	// withRegistry opens the registry, closing the database afterwards.
	withRegistry := func(ctx context.Context, fn func(*rbac.Registry) error) error {
		var store rbac.RoleStore
		if dbPath != "" {
			db, err := stores.OpenSQLite(ctx, dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			store = db.Roles()
		}
		reg, err := rbac.NewRegistry(ctx, store)
		if err != nil {
			return err
		}
		return fn(reg)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every role with its permission count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRegistry(cmd.Context(), func(reg *rbac.Registry) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tKIND\tPERMISSIONS\tDESCRIPTION")
				for _, r := range reg.Roles() {
					kind := "custom"
					if r.IsSystemRole {
						kind = "system"
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.Name, kind, len(r.Permissions), r.Description)
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show NAME",
		Short: "Print the permissions granted by NAME",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRegistry(cmd.Context(), func(reg *rbac.Registry) error {
				role, ok := reg.Role(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, args[0])
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s: %s\n", role.Name, role.Description)
				for _, p := range role.Permissions {
					fmt.Fprintf(out, "  %s\n", p)
				}
				return nil
			})
		},
	})

	var (
		description string
		perms       []string
	)
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a custom role in the --sqlite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("--sqlite is required to create roles")
			}
			granted := make([]rbac.Permission, 0, len(perms))
			for _, p := range perms {
				granted = append(granted, rbac.Permission(strings.TrimSpace(p)))
			}
			return withRegistry(cmd.Context(), func(reg *rbac.Registry) error {
				role, err := reg.CreateCustomRole(cmd.Context(), args[0], description, granted)
				if err != nil {
					return err
				}
				slog.InfoContext(cmd.Context(), "role created", "role", role.Name, "permissions", len(role.Permissions))
				fmt.Fprintln(cmd.OutOrStdout(), role.Name)
				return nil
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "role description")
	create.Flags().StringSliceVar(&perms, "perm", nil, "permission to grant (repeatable)")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a custom role from the --sqlite database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				return errors.New("--sqlite is required to delete roles")
			}
			return withRegistry(cmd.Context(), func(reg *rbac.Registry) error {
				deleted, err := reg.DeleteCustomRole(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("%w: %s", rbac.ErrRoleNotFound, args[0])
				}
				slog.InfoContext(cmd.Context(), "role deleted", "role", args[0])
				return nil
			})
		},
	})

	return cmd
}
