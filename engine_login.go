package goTrust

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cepmachine/goTrust/mfa"
)

// CompleteLogin finishes a login whose first factor was verified elsewhere.
//
// When the principal has MFA enabled, mfaCode is required: an empty code
// returns ErrMFARequired and a wrong one ErrInvalidMFAToken. A principal
// without MFA ignores mfaCode. On success a token carrying the identity's
// subject, email and provider is issued.
func (e *Engine) CompleteLogin(ctx context.Context, identity VerifiedIdentity, mfaCode string) (*LoginResult, error) {
	if strings.TrimSpace(identity.PrincipalID) == "" {
		return nil, e.loginFailed(ctx, identity.PrincipalID, ErrInvalidCredentials)
	}

	if e.identities != nil {
		p, err := e.identities.LookupByID(ctx, identity.PrincipalID)
		if err != nil {
			return nil, e.loginFailed(ctx, identity.PrincipalID, err)
		}
		if !p.IsActive {
			return nil, e.loginFailed(ctx, identity.PrincipalID, ErrInactivePrincipal)
		}
	}

	enabled, err := e.mfa.IsEnabled(ctx, identity.PrincipalID)
	if err != nil {
		e.storeFailure(ctx, "login.mfa_status", err)
		return nil, e.loginFailed(ctx, identity.PrincipalID, err)
	}

	result := &LoginResult{MFAMethod: mfa.MethodFailed}
	if enabled {
		if strings.TrimSpace(mfaCode) == "" {
			e.metricInc(MetricLoginMFARequired)
			e.emitAudit(ctx, auditEventLoginMFARequired, false, identity.PrincipalID, ErrMFARequired, nil)
			return nil, ErrMFARequired
		}
		outcome, err := e.VerifyMFA(ctx, identity.PrincipalID, mfaCode)
		if err != nil {
			return nil, e.loginFailed(ctx, identity.PrincipalID, err)
		}
		result.MFAMethod = outcome.Method
		result.RemainingBackupCodes = outcome.RemainingBackupCodes
		result.LowBackupCodes = outcome.LowBackupCodes
	}

	raw, expiresAt, err := e.IssueToken(ctx, identity)
	if err != nil {
		return nil, e.loginFailed(ctx, identity.PrincipalID, err)
	}
	result.Token = raw
	result.ExpiresAt = expiresAt

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, identity.PrincipalID, nil, func() map[string]string {
		md := map[string]string{"mfa": "false"}
		if enabled {
			md["mfa"] = "true"
			md["method"] = result.MFAMethod.String()
		}
		if identity.Provider != "" {
			md["provider"] = identity.Provider
		}
		return md
	})
	return result, nil
}

// LoginWithPassword verifies identifier and password against the configured
// IdentityProvider, then runs CompleteLogin. Unknown identifiers and wrong
// passwords both return ErrInvalidCredentials.
func (e *Engine) LoginWithPassword(ctx context.Context, identifier, password, mfaCode string) (*LoginResult, error) {
	if e.identities == nil || e.hasher == nil {
		return nil, ErrEngineNotReady
	}
	if identifier == "" || password == "" {
		return nil, e.loginFailed(ctx, "", ErrInvalidCredentials)
	}

	rec, err := e.identities.LookupByIdentifier(ctx, identifier)
	if errors.Is(err, ErrPrincipalNotFound) {
		return nil, e.loginFailed(ctx, "", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, e.loginFailed(ctx, "", fmt.Errorf("lookup identity: %w", err))
	}

	ok, err := e.hasher.Verify(password, rec.PasswordHash)
	if err != nil {
		e.logger.WarnContext(ctx, "stored password hash unreadable",
			"principal_id", rec.Principal.ID,
			"error", err,
		)
		return nil, e.loginFailed(ctx, rec.Principal.ID, ErrInvalidCredentials)
	}
	if !ok {
		return nil, e.loginFailed(ctx, rec.Principal.ID, ErrInvalidCredentials)
	}
	if !rec.Principal.IsActive {
		return nil, e.loginFailed(ctx, rec.Principal.ID, ErrInactivePrincipal)
	}

	return e.CompleteLogin(ctx, VerifiedIdentity{
		PrincipalID: rec.Principal.ID,
		Email:       rec.Principal.Email,
		Provider:    "password",
	}, mfaCode)
}

func (e *Engine) loginFailed(ctx context.Context, principalID string, err error) error {
	e.metricInc(MetricLoginFailure)
	if !isMFAFailure(err) {
		e.emitAudit(ctx, auditEventLoginFailure, false, principalID, err, nil)
	}
	return err
}
