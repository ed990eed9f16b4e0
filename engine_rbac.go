package goTrust

import (
	"context"

	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/rbac"
)

// Roles lists system roles in hierarchy order followed by custom roles by name.
func (e *Engine) Roles() []rbac.Role {
	return e.rbac.Roles()
}

// Role looks up a role by exact name.
func (e *Engine) Role(name string) (rbac.Role, bool) {
	return e.rbac.Role(name)
}

// CreateCustomRole adds a role. Names of existing roles return ErrRoleConflict.
func (e *Engine) CreateCustomRole(ctx context.Context, name, description string, perms []rbac.Permission) (rbac.Role, error) {
	role, err := e.rbac.CreateCustomRole(ctx, name, description, perms)
	e.roleChanged(ctx, auditEventRoleCreated, MetricRoleCreated, name, err)
	return role, err
}

// UpdateCustomRole changes a custom role. System roles are immutable.
func (e *Engine) UpdateCustomRole(ctx context.Context, name string, update rbac.RoleUpdate) (rbac.Role, error) {
	role, err := e.rbac.UpdateCustomRole(ctx, name, update)
	e.roleChanged(ctx, auditEventRoleUpdated, MetricRoleUpdated, name, err)
	return role, err
}

// DeleteCustomRole removes a custom role and reports whether it existed.
// Principals holding it fall back to the default role.
func (e *Engine) DeleteCustomRole(ctx context.Context, name string) (bool, error) {
	deleted, err := e.rbac.DeleteCustomRole(ctx, name)
	if err == nil && !deleted {
		return false, nil
	}
	e.roleChanged(ctx, auditEventRoleDeleted, MetricRoleDeleted, name, err)
	return deleted, err
}

func (e *Engine) roleChanged(ctx context.Context, eventType string, metric MetricID, name string, err error) {
	e.storeFailure(ctx, eventType, err)
	if err == nil {
		e.metricInc(metric)
		e.logger.InfoContext(ctx, eventType, "role", name)
	}
	e.emitAudit(ctx, eventType, err == nil, "", err, func() map[string]string {
		return map[string]string{"role": name}
	})
}

// EffectivePermissions returns everything p holds.
func (e *Engine) EffectivePermissions(p *rbac.Principal) rbac.PermissionSet {
	return e.rbac.EffectivePermissions(p)
}

// HasPermission reports whether p holds perm.
func (e *Engine) HasPermission(p *rbac.Principal, perm rbac.Permission) bool {
	return e.rbac.HasPermission(p, perm)
}

// IsAdmin reports whether p is an active administrator.
func (e *Engine) IsAdmin(p *rbac.Principal) bool {
	return e.rbac.IsAdmin(p)
}

// HasRole reports whether p holds one of roles. Admins pass every role check.
func (e *Engine) HasRole(p *rbac.Principal, roles ...string) bool {
	return e.rbac.HasRole(p, roles...)
}

// Check evaluates req for p. Denials are counted, audited and logged.
func (e *Engine) Check(ctx context.Context, p *rbac.Principal, req enforce.Requirement) enforce.Decision {
	d := e.enforcer.Check(ctx, p, req)
	if d.Allowed {
		e.metricInc(MetricPermissionGranted)
	}
	return d
}

// Authorize is Check reduced to an error: nil, ErrUnauthenticated or
// ErrPermissionDenied.
func (e *Engine) Authorize(ctx context.Context, p *rbac.Principal, req enforce.Requirement) error {
	return e.Check(ctx, p, req).Err()
}

func (e *Engine) onDeny(ctx context.Context, p *rbac.Principal, d enforce.Decision) {
	principalID := ""
	if p != nil {
		principalID = p.ID
	}

	e.metricInc(MetricPermissionDenied)
	e.emitAudit(ctx, auditEventPermissionDenied, false, principalID, d.Err(), func() map[string]string {
		return map[string]string{
			"required": d.Requirement.String(),
			"reason":   string(d.Reason),
		}
	})
	e.logger.WarnContext(ctx, "permission denied",
		"principal_id", principalID,
		"required", d.Requirement.String(),
		"reason", string(d.Reason),
	)
}
