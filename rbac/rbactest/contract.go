// Package rbactest holds a behavioural suite every rbac.RoleStore must pass.
package rbactest

import (
	"context"
	"testing"

	"github.com/cepmachine/goTrust/rbac"
	"github.com/stretchr/testify/require"
)

// RunRoleStoreContract exercises newStore. Each subtest gets a fresh store.
func RunRoleStoreContract(t *testing.T, newStore func(t *testing.T) rbac.RoleStore) {
	t.Helper()

	t.Run("empty", func(t *testing.T) {
		roles, err := newStore(t).LoadRoles(context.Background())
		require.NoError(t, err)
		require.Empty(t, roles)
	})

	t.Run("save load delete", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		analyst := rbac.Role{
			Name:        "analyst",
			Description: "Reads and exports analytics",
			Permissions: []rbac.Permission{rbac.ViewAnalytics, rbac.ExportAnalytics},
		}
		auditor := rbac.Role{
			Name:        "auditor",
			Description: "Reads users",
			Permissions: []rbac.Permission{rbac.ViewUsers},
		}
		require.NoError(t, s.SaveRole(ctx, analyst))
		require.NoError(t, s.SaveRole(ctx, auditor))

		roles, err := s.LoadRoles(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 2)
		byName := map[string]rbac.Role{}
		for _, r := range roles {
			byName[r.Name] = r
		}
		require.Equal(t, analyst.Description, byName["analyst"].Description)
		require.Equal(t, analyst.Permissions, byName["analyst"].Permissions)
		require.False(t, byName["analyst"].IsSystemRole)

		analyst.Permissions = []rbac.Permission{rbac.ViewAnalytics}
		require.NoError(t, s.SaveRole(ctx, analyst))
		require.NoError(t, s.DeleteRole(ctx, "auditor"))
		require.NoError(t, s.DeleteRole(ctx, "never-existed"))

		roles, err = s.LoadRoles(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		require.Equal(t, []rbac.Permission{rbac.ViewAnalytics}, roles[0].Permissions)
	})

	t.Run("create is insert only", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		first := rbac.Role{Name: "auditor", Permissions: []rbac.Permission{rbac.ViewUsers}}
		require.NoError(t, s.CreateRole(ctx, first))

		err := s.CreateRole(ctx, rbac.Role{Name: "auditor", Permissions: []rbac.Permission{rbac.ExportAnalytics}})
		require.ErrorIs(t, err, rbac.ErrRoleConflict)

		roles, err := s.LoadRoles(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		require.Equal(t, first.Permissions, roles[0].Permissions)

		require.NoError(t, s.DeleteRole(ctx, "auditor"))
		require.NoError(t, s.CreateRole(ctx, first))
	})

	t.Run("version moves on writes", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		v0, err := s.Version(ctx)
		require.NoError(t, err)

		require.NoError(t, s.CreateRole(ctx, rbac.Role{Name: "auditor"}))
		v1, err := s.Version(ctx)
		require.NoError(t, err)
		require.NotEqual(t, v0, v1)

		require.NoError(t, s.SaveRole(ctx, rbac.Role{Name: "auditor", Description: "changed"}))
		v2, err := s.Version(ctx)
		require.NoError(t, err)
		require.NotEqual(t, v1, v2)

		require.NoError(t, s.DeleteRole(ctx, "auditor"))
		v3, err := s.Version(ctx)
		require.NoError(t, err)
		require.NotEqual(t, v2, v3)

		again, err := s.Version(ctx)
		require.NoError(t, err)
		require.Equal(t, v3, again)
	})
}
