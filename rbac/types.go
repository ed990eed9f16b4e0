package rbac

import (
	"github.com/cepmachine/goTrust/permission"
)

// Role is a named permission bundle.
type Role struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Permissions  []Permission `json:"permissions"`
	IsSystemRole bool         `json:"is_system_role"`
}

// Clone returns a copy that shares no slices with r.
func (r Role) Clone() Role {
	r.Permissions = append([]Permission(nil), r.Permissions...)
	return r
}

// Principal is the authenticated subject as supplied by the identity store.
// The registry only reads it.
type Principal struct {
	ID                string
	Email             string
	Role              string
	CustomPermissions []Permission
	IsActive          bool
	MFAEnabled        bool
}

// PermissionSet is an immutable set of permissions.
type PermissionSet struct {
	mask permission.Mask
	reg  *permission.Registry
}

// Has reports membership.
func (s PermissionSet) Has(p Permission) bool {
	if s.reg == nil {
		return false
	}
	bit, ok := s.reg.Bit(string(p))
	return ok && s.mask.Has(bit)
}

// Len returns the number of permissions.
func (s PermissionSet) Len() int {
	return s.mask.Count()
}

// IsEmpty reports whether the set has no members.
func (s PermissionSet) IsEmpty() bool {
	return s.mask.IsZero()
}

// Contains reports whether every member of o is in s.
func (s PermissionSet) Contains(o PermissionSet) bool {
	return s.mask.ContainsAll(o.mask)
}

// Slice lists the members in catalog order.
func (s PermissionSet) Slice() []Permission {
	if s.reg == nil {
		return nil
	}
	names := s.reg.Names(s.mask)
	out := make([]Permission, len(names))
	for i, n := range names {
		out[i] = Permission(n)
	}
	return out
}

// RoleUpdate carries optional changes to a custom role. Nil fields are left
// unchanged.
type RoleUpdate struct {
	Description *string
	Permissions []Permission
}
