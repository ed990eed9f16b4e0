package enforce

import (
	"context"
	"errors"
	"fmt"

	"github.com/cepmachine/goTrust/rbac"
)

var (
	// ErrUnauthenticated is returned when there is no principal to check.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied is returned when the principal lacks the requirement.
	ErrPermissionDenied = errors.New("permission denied")
)

// Reason explains a Decision.
type Reason string

const (
	ReasonGranted           Reason = "granted"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonInactive          Reason = "inactive_principal"
	ReasonEmptyRequirement  Reason = "empty_requirement"
	ReasonMissingPermission Reason = "missing_permission"
	ReasonMissingRole       Reason = "missing_role"
)

// Decision is the outcome of a check.
type Decision struct {
	Allowed     bool
	Reason      Reason
	Requirement Requirement
}

// Err maps d to nil, ErrUnauthenticated or a wrapped ErrPermissionDenied.
func (d Decision) Err() error {
	switch {
	case d.Allowed:
		return nil
	case d.Reason == ReasonUnauthenticated:
		return ErrUnauthenticated
	default:
		return fmt.Errorf("%w: %s required", ErrPermissionDenied, d.Requirement)
	}
}

// Authorizer answers permission questions about a principal. *rbac.Registry
// implements it.
type Authorizer interface {
	HasPermission(p *rbac.Principal, perm rbac.Permission) bool
	HasAny(p *rbac.Principal, perms ...rbac.Permission) bool
	HasAll(p *rbac.Principal, perms ...rbac.Permission) bool
	HasRole(p *rbac.Principal, roles ...string) bool
	IsAdmin(p *rbac.Principal) bool
}

// DenyHook observes denials. p may be nil.
type DenyHook func(ctx context.Context, p *rbac.Principal, d Decision)

// Enforcer evaluates requirements. It is safe for concurrent use once built.
type Enforcer struct {
	authz Authorizer
	hooks []DenyHook
}

// Option customizes an Enforcer.
type Option func(*Enforcer)

// WithDenyHook adds a hook run on every denial, in registration order.
func WithDenyHook(h DenyHook) Option {
	return func(e *Enforcer) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

// New builds an Enforcer over authz.
func New(authz Authorizer, opts ...Option) (*Enforcer, error) {
	if authz == nil {
		return nil, errors.New("enforce: authorizer is required")
	}
	e := &Enforcer{authz: authz}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Check evaluates req for p and runs the deny hooks when the result is a denial.
func (e *Enforcer) Check(ctx context.Context, p *rbac.Principal, req Requirement) Decision {
	d := e.evaluate(p, req)
	if !d.Allowed {
		for _, h := range e.hooks {
			h(ctx, p, d)
		}
	}
	return d
}

// Require is Check reduced to an error.
func (e *Enforcer) Require(ctx context.Context, p *rbac.Principal, req Requirement) error {
	return e.Check(ctx, p, req).Err()
}

func (e *Enforcer) evaluate(p *rbac.Principal, req Requirement) Decision {
	d := Decision{Requirement: req}
	switch {
	case p == nil:
		d.Reason = ReasonUnauthenticated
		return d
	case !p.IsActive:
		d.Reason = ReasonInactive
		return d
	case req.IsEmpty():
		d.Reason = ReasonEmptyRequirement
		return d
	}

	switch req.kind {
	case KindPermission:
		d.Allowed = e.authz.HasPermission(p, req.perms[0])
		d.Reason = ReasonMissingPermission
	case KindAnyOf:
		d.Allowed = e.authz.HasAny(p, req.perms...)
		d.Reason = ReasonMissingPermission
	case KindAllOf:
		d.Allowed = e.authz.HasAll(p, req.perms...)
		d.Reason = ReasonMissingPermission
	case KindRoles:
		d.Allowed = e.authz.HasRole(p, req.roles...)
		d.Reason = ReasonMissingRole
	case KindAdmin:
		d.Allowed = e.authz.IsAdmin(p)
		d.Reason = ReasonMissingRole
	}
	if d.Allowed {
		d.Reason = ReasonGranted
	}
	return d
}
