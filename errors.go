package goTrust

import (
	"errors"

	"github.com/cepmachine/goTrust/enforce"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/cepmachine/goTrust/rbac"
	"github.com/cepmachine/goTrust/token"
)

var (
	// ErrInvalidMFAToken is returned for any wrong second-factor code. It does
	// not reveal which factor was tried.
	ErrInvalidMFAToken = mfa.ErrInvalidToken
	// ErrMFANotConfigured is returned when the principal has no enabled enrollment.
	ErrMFANotConfigured = mfa.ErrNotConfigured
	// ErrMFAAlreadyEnabled is returned when enrolling an enrolled principal.
	ErrMFAAlreadyEnabled = mfa.ErrAlreadyEnabled
	// ErrMFAStoreUnavailable wraps enrollment store failures.
	ErrMFAStoreUnavailable = mfa.ErrStoreUnavailable
	// ErrMFAConcurrentUpdate is returned when another instance changed the
	// enrollment mid-step. Retrying the step re-reads the current state.
	ErrMFAConcurrentUpdate = mfa.ErrConcurrentUpdate

	// ErrTokenExpired is returned for a well-formed token past its expiry.
	ErrTokenExpired = token.ErrExpired
	// ErrTokenInvalid is returned for every other token failure.
	ErrTokenInvalid = token.ErrInvalid

	// ErrPermissionDenied is returned when a principal lacks a requirement.
	ErrPermissionDenied = enforce.ErrPermissionDenied
	// ErrUnauthenticated is returned when no principal is present.
	ErrUnauthenticated = enforce.ErrUnauthenticated

	// ErrRoleConflict is returned when a custom role would shadow another role.
	ErrRoleConflict = rbac.ErrRoleConflict
	// ErrRoleNotFound is returned when a custom role does not exist.
	ErrRoleNotFound = rbac.ErrRoleNotFound
	// ErrUnknownPermission is returned when a role names a permission outside the catalog.
	ErrUnknownPermission = rbac.ErrUnknownPermission
	// ErrRoleStoreUnavailable wraps role store failures.
	ErrRoleStoreUnavailable = rbac.ErrStoreUnavailable
)

var (
	// ErrMFARequired is returned by login when the principal has MFA enabled
	// and no code was supplied.
	ErrMFARequired = errors.New("mfa required")
	// ErrInvalidCredentials is returned when a password does not match or the
	// identifier is unknown.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactivePrincipal is returned when logging in a deactivated principal.
	ErrInactivePrincipal = errors.New("principal inactive")
	// ErrPrincipalNotFound is returned by an IdentityProvider for unknown principals.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrEngineNotReady is returned when an operation needs a dependency that
	// was not supplied to the Builder.
	ErrEngineNotReady = errors.New("engine not ready")
)
