// Package rbac resolves principals to permission sets through a fixed system
// role hierarchy, custom roles and per-principal grants.
//
// Role and permission sets are compiled to 128-bit masks once, so permission
// checks on the request path take a read lock and a few bit operations. Custom
// roles are cached and reloaded whenever the role store reports a new version,
// so registries sharing a store see each other's writes.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cepmachine/goTrust/permission"
)

var (
	// ErrRoleConflict is returned when a custom role would shadow an existing
	// role, or when a system role is modified.
	ErrRoleConflict = errors.New("role conflict")
	// ErrRoleNotFound is returned when updating a role that does not exist.
	ErrRoleNotFound = errors.New("role not found")
	// ErrUnknownPermission is returned when a role names a permission outside
	// the catalog.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrInvalidRole is returned for an empty role name.
	ErrInvalidRole = errors.New("role name is required")
	// ErrStoreUnavailable wraps role store failures.
	ErrStoreUnavailable = errors.New("role store unavailable")
)

type compiledRole struct {
	role Role
	mask permission.Mask
}

// Registry holds the role table. It is safe for concurrent use; mutations are
// serialized against each other and against reads.
type Registry struct {
	perms *permission.Registry
	all   permission.Mask
	store RoleStore

	mu          sync.RWMutex
	system      map[string]compiledRole
	systemOrder []string
	custom      map[string]compiledRole
	version     uint64
}

// NewRegistry compiles the system roles and loads custom roles from store.
// A nil store keeps custom roles in memory.
func NewRegistry(ctx context.Context, store RoleStore) (*Registry, error) {
	if store == nil {
		store = NewMemoryRoleStore()
	}

	perms := permission.NewRegistry()
	for _, p := range allPermissions {
		if _, err := perms.Register(string(p)); err != nil {
			return nil, fmt.Errorf("register permission %s: %w", p, err)
		}
	}
	perms.Freeze()

	r := &Registry{
		perms:  perms,
		all:    perms.All(),
		store:  store,
		system: make(map[string]compiledRole),
		custom: make(map[string]compiledRole),
	}

	for _, role := range SystemRoles() {
		compiled, err := r.compile(role)
		if err != nil {
			return nil, err
		}
		r.system[role.Name] = compiled
		r.systemOrder = append(r.systemOrder, role.Name)
	}

	version, custom, err := r.loadCustom(ctx)
	if err != nil {
		return nil, err
	}
	r.version = version
	r.custom = custom

	return r, nil
}

// loadCustom reads the store version first, so a write racing the load is
// picked up by the next sync.
func (r *Registry) loadCustom(ctx context.Context) (uint64, map[string]compiledRole, error) {
	version, err := r.store.Version(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	stored, err := r.store.LoadRoles(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	custom := make(map[string]compiledRole, len(stored))
	for _, role := range stored {
		if _, clash := r.system[role.Name]; clash {
			return 0, nil, fmt.Errorf("%w: stored role %q shadows a system role", ErrRoleConflict, role.Name)
		}
		role.IsSystemRole = false
		compiled, err := r.compile(role)
		if err != nil {
			return 0, nil, fmt.Errorf("load role %q: %w", role.Name, err)
		}
		custom[role.Name] = compiled
	}
	return version, custom, nil
}

// Refresh reloads custom roles if the store version moved since the last load.
func (r *Registry) Refresh(ctx context.Context) error {
	version, err := r.store.Version(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.mu.RLock()
	current := r.version
	r.mu.RUnlock()
	if version == current {
		return nil
	}

	version, custom, err := r.loadCustom(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	if r.version == current {
		r.custom = custom
		r.version = version
	}
	r.mu.Unlock()
	return nil
}

// sync is Refresh for read paths. A failing store leaves the cached table in
// place.
func (r *Registry) sync() {
	_ = r.Refresh(context.Background())
}

/*
====================================================================================
ROLE TABLE
====================================================================================
*/

// Role returns the named role.
func (r *Registry) Role(name string) (Role, bool) {
	r.sync()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.lookup(name); ok {
		return c.role.Clone(), true
	}
	return Role{}, false
}

// Roles lists system roles in hierarchy order followed by custom roles by name.
func (r *Registry) Roles() []Role {
	r.sync()
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Role, 0, len(r.system)+len(r.custom))
	for _, name := range r.systemOrder {
		out = append(out, r.system[name].role.Clone())
	}
	custom := make([]string, 0, len(r.custom))
	for name := range r.custom {
		custom = append(custom, name)
	}
	sort.Strings(custom)
	for _, name := range custom {
		out = append(out, r.custom[name].role.Clone())
	}
	return out
}

// CreateCustomRole adds a role. Names of existing roles, system or custom,
// are refused with ErrRoleConflict, including roles created through another
// registry on the same store.
func (r *Registry) CreateCustomRole(ctx context.Context, name, description string, perms []Permission) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, ErrInvalidRole
	}

	role := Role{
		Name:        name,
		Description: description,
		Permissions: dedupe(perms),
	}
	compiled, err := r.compile(role)
	if err != nil {
		return Role{}, err
	}
	if err := r.Refresh(ctx); err != nil {
		return Role{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.lookup(name); exists {
		return Role{}, ErrRoleConflict
	}
	if err := r.store.CreateRole(ctx, role); err != nil {
		if errors.Is(err, ErrRoleConflict) {
			return Role{}, ErrRoleConflict
		}
		return Role{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.custom[name] = compiled
	return role.Clone(), nil
}

// UpdateCustomRole changes the description or permissions of a custom role.
func (r *Registry) UpdateCustomRole(ctx context.Context, name string, update RoleUpdate) (Role, error) {
	if err := r.Refresh(ctx); err != nil {
		return Role{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.system[name]; ok {
		return Role{}, ErrRoleConflict
	}
	current, ok := r.custom[name]
	if !ok {
		return Role{}, ErrRoleNotFound
	}

	role := current.role.Clone()
	if update.Description != nil {
		role.Description = *update.Description
	}
	if update.Permissions != nil {
		role.Permissions = dedupe(update.Permissions)
	}
	compiled, err := r.compile(role)
	if err != nil {
		return Role{}, err
	}
	if err := r.store.SaveRole(ctx, role); err != nil {
		return Role{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	r.custom[name] = compiled
	return role.Clone(), nil
}

// DeleteCustomRole removes a custom role and reports whether it existed.
// Principals that still reference it fall back to the default role.
func (r *Registry) DeleteCustomRole(ctx context.Context, name string) (bool, error) {
	if err := r.Refresh(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.system[name]; ok {
		return false, ErrRoleConflict
	}
	if _, ok := r.custom[name]; !ok {
		return false, nil
	}
	if err := r.store.DeleteRole(ctx, name); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	delete(r.custom, name)
	return true, nil
}

/*
====================================================================================
EVALUATION
====================================================================================
*/

// EffectivePermissions returns the role permissions united with the
// principal's custom grants. Inactive principals have none.
func (r *Registry) EffectivePermissions(p *Principal) PermissionSet {
	return PermissionSet{mask: r.effective(p), reg: r.perms}
}

// HasPermission reports whether p holds perm.
func (r *Registry) HasPermission(p *Principal, perm Permission) bool {
	bit, ok := r.perms.Bit(string(perm))
	return ok && r.effective(p).Has(bit)
}

// HasAny reports whether p holds at least one of perms.
func (r *Registry) HasAny(p *Principal, perms ...Permission) bool {
	want, _ := r.perms.MaskOf(toNames(perms)...)
	return r.effective(p).ContainsAny(want)
}

// HasAll reports whether p holds every one of perms. Unknown permissions are
// never held.
func (r *Registry) HasAll(p *Principal, perms ...Permission) bool {
	if p == nil || !p.IsActive {
		return false
	}
	want, unknown := r.perms.MaskOf(toNames(perms)...)
	if len(unknown) > 0 {
		return false
	}
	return r.effective(p).ContainsAll(want)
}

// IsAdmin reports whether p is an active admin or holds admin_access.
func (r *Registry) IsAdmin(p *Principal) bool {
	if p == nil || !p.IsActive {
		return false
	}
	if r.roleName(p.Role) == RoleAdmin {
		return true
	}
	return r.HasPermission(p, AdminAccess)
}

// HasRole reports whether p's resolved role is one of roles. Admins pass
// every role check.
func (r *Registry) HasRole(p *Principal, roles ...string) bool {
	if p == nil || !p.IsActive {
		return false
	}
	resolved := r.roleName(p.Role)
	if resolved == RoleAdmin {
		return true
	}
	for _, name := range roles {
		if name == resolved {
			return true
		}
	}
	return false
}

// ResolveRole returns the role that governs p, applying the default for
// unknown names.
func (r *Registry) ResolveRole(name string) Role {
	r.sync()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name).role.Clone()
}

func (r *Registry) effective(p *Principal) permission.Mask {
	if p == nil || !p.IsActive {
		return permission.Mask{}
	}
	r.sync()
	r.mu.RLock()
	mask := r.resolve(p.Role).mask
	r.mu.RUnlock()

	if len(p.CustomPermissions) > 0 {
		extra, _ := r.perms.MaskOf(toNames(p.CustomPermissions)...)
		mask = mask.Union(extra)
	}
	return mask
}

func (r *Registry) roleName(name string) string {
	r.sync()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(name).role.Name
}

// resolve requires r.mu held.
func (r *Registry) resolve(name string) compiledRole {
	if c, ok := r.lookup(name); ok {
		return c
	}
	return r.system[DefaultRole]
}

// lookup requires r.mu held.
func (r *Registry) lookup(name string) (compiledRole, bool) {
	if c, ok := r.system[name]; ok {
		return c, true
	}
	c, ok := r.custom[name]
	return c, ok
}

func (r *Registry) compile(role Role) (compiledRole, error) {
	mask, unknown := r.perms.MaskOf(toNames(role.Permissions)...)
	if len(unknown) > 0 {
		return compiledRole{}, fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(unknown, ", "))
	}
	if role.Name == RoleAdmin && role.IsSystemRole {
		mask = r.all
	}
	return compiledRole{role: role.Clone(), mask: mask}, nil
}

func toNames(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func dedupe(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
