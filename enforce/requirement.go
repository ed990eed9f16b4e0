// Package enforce turns an authenticated principal and a route requirement
// into an allow or deny decision.
//
// Every path that is not an explicit grant denies: a nil principal, an
// inactive principal, an empty requirement and an unknown permission all deny.
package enforce

import (
	"strings"

	"github.com/cepmachine/goTrust/rbac"
)

// Kind selects how a Requirement is evaluated.
type Kind uint8

const (
	KindNone Kind = iota
	KindPermission
	KindAnyOf
	KindAllOf
	KindRoles
	KindAdmin
)

// Requirement is what a protected operation demands of the caller. The zero
// value is an empty requirement and is always denied.
type Requirement struct {
	kind  Kind
	perms []rbac.Permission
	roles []string
}

// Permission requires a single permission.
func Permission(p rbac.Permission) Requirement {
	return Requirement{kind: KindPermission, perms: []rbac.Permission{p}}
}

// AnyOf requires at least one of perms.
func AnyOf(perms ...rbac.Permission) Requirement {
	return Requirement{kind: KindAnyOf, perms: append([]rbac.Permission(nil), perms...)}
}

// AllOf requires every one of perms.
func AllOf(perms ...rbac.Permission) Requirement {
	return Requirement{kind: KindAllOf, perms: append([]rbac.Permission(nil), perms...)}
}

// Roles requires one of the named roles. Admin satisfies any role.
func Roles(roles ...string) Requirement {
	return Requirement{kind: KindRoles, roles: append([]string(nil), roles...)}
}

// Admin requires the admin role.
func Admin() Requirement {
	return Requirement{kind: KindAdmin}
}

// Kind returns how r is evaluated.
func (r Requirement) Kind() Kind { return r.kind }

// Permissions returns a copy of the required permissions.
func (r Requirement) Permissions() []rbac.Permission {
	return append([]rbac.Permission(nil), r.perms...)
}

// RoleNames returns a copy of the accepted roles.
func (r Requirement) RoleNames() []string {
	return append([]string(nil), r.roles...)
}

// IsEmpty reports whether r names nothing to check.
func (r Requirement) IsEmpty() bool {
	switch r.kind {
	case KindPermission:
		return r.perms[0] == ""
	case KindAnyOf, KindAllOf:
		return len(r.perms) == 0
	case KindRoles:
		return len(r.roles) == 0
	case KindAdmin:
		return false
	default:
		return true
	}
}

// String renders r for logs and error messages.
func (r Requirement) String() string {
	names := make([]string, 0, len(r.perms))
	for _, p := range r.perms {
		names = append(names, string(p))
	}
	switch r.kind {
	case KindPermission:
		return strings.Join(names, "")
	case KindAnyOf:
		return "any(" + strings.Join(names, ",") + ")"
	case KindAllOf:
		return "all(" + strings.Join(names, ",") + ")"
	case KindRoles:
		return "role(" + strings.Join(r.roles, ",") + ")"
	case KindAdmin:
		return "admin"
	default:
		return "none"
	}
}
