package goTrust

import (
	"context"
	"time"

	"github.com/cepmachine/goTrust/mfa"
	"github.com/cepmachine/goTrust/rbac"
)

// VerifiedIdentity is a principal whose first factor has already been checked,
// by a password, an OAuth provider or anything else outside the engine.
type VerifiedIdentity struct {
	PrincipalID string
	Email       string
	// Provider names the first factor, such as "password" or "google".
	Provider string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	// MFAMethod is MethodFailed when the principal has no second factor.
	MFAMethod            mfa.Method
	RemainingBackupCodes int
	LowBackupCodes       bool
}

// IdentityRecord is what an IdentityProvider returns for a login identifier.
type IdentityRecord struct {
	Principal    rbac.Principal
	PasswordHash string
}

// IdentityProvider is the application's principal directory.
//
// Lookups for unknown principals return ErrPrincipalNotFound.
type IdentityProvider interface {
	LookupByIdentifier(ctx context.Context, identifier string) (*IdentityRecord, error)
	LookupByID(ctx context.Context, principalID string) (*rbac.Principal, error)
}

// CredentialHasher verifies stored password hashes. *password.Argon2
// implements it.
type CredentialHasher interface {
	Verify(password, encoded string) (bool, error)
}

// MFAStatusMirror receives the principal's MFA flag after it changes, for
// applications that keep a copy on their user record.
type MFAStatusMirror interface {
	SetMFAEnabled(ctx context.Context, principalID string, enabled bool) error
}
