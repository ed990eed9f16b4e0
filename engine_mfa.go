package goTrust

import (
	"context"
	"errors"
	"strconv"

	"github.com/cepmachine/goTrust/mfa"
)

// EnableMFA starts enrollment for principalID and returns the secret,
// provisioning URI and plaintext backup codes. The principal stays pending
// until ConfirmMFA succeeds. accountLabel is shown in authenticator apps and
// defaults to the principal id.
func (e *Engine) EnableMFA(ctx context.Context, principalID, accountLabel string) (*mfa.Setup, error) {
	setup, err := e.mfa.Enable(ctx, principalID, accountLabel)
	if err != nil {
		e.storeFailure(ctx, "mfa.enable", err)
		e.emitAudit(ctx, auditEventMFASetupRequested, false, principalID, err, nil)
		return nil, err
	}

	e.metricInc(MetricMFASetupStarted)
	e.emitAudit(ctx, auditEventMFASetupRequested, true, principalID, nil, nil)
	e.logger.InfoContext(ctx, "mfa setup started", "principal_id", principalID)
	return setup, nil
}

// ConfirmMFA activates a pending enrollment with a TOTP code from the new
// authenticator.
func (e *Engine) ConfirmMFA(ctx context.Context, principalID, code string) error {
	if err := e.mfa.ConfirmSetup(ctx, principalID, code); err != nil {
		e.storeFailure(ctx, "mfa.confirm", err)
		e.emitAudit(ctx, auditEventMFAEnabled, false, principalID, err, nil)
		return err
	}

	e.metricInc(MetricMFAEnabled)
	e.mirrorStatus(ctx, principalID, true)
	e.emitAudit(ctx, auditEventMFAEnabled, true, principalID, nil, nil)
	e.logger.InfoContext(ctx, "mfa enabled", "principal_id", principalID)
	return nil
}

// VerifyMFA checks a login second factor. code may be a TOTP code or an unused
// backup code; a backup code is consumed. Any mismatch is ErrInvalidMFAToken.
func (e *Engine) VerifyMFA(ctx context.Context, principalID, code string) (mfa.VerificationOutcome, error) {
	outcome, err := e.mfa.VerifyForLogin(ctx, principalID, code)
	if err != nil {
		if !e.storeFailure(ctx, "mfa.verify", err) {
			e.metricInc(MetricMFAFailure)
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, principalID, err, nil)
		return outcome, err
	}

	e.metricInc(MetricMFASuccess)
	if outcome.Method == mfa.MethodBackupCode {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, principalID, nil, func() map[string]string {
			return map[string]string{"remaining": strconv.Itoa(outcome.RemainingBackupCodes)}
		})
		if outcome.LowBackupCodes {
			e.metricInc(MetricBackupCodesLow)
			e.logger.WarnContext(ctx, "backup codes running low",
				"principal_id", principalID,
				"remaining", outcome.RemainingBackupCodes,
			)
		}
	}
	e.emitAudit(ctx, auditEventMFASuccess, true, principalID, nil, func() map[string]string {
		return map[string]string{"method": outcome.Method.String()}
	})
	return outcome, nil
}

// DisableMFA removes the enrollment after a live TOTP check.
func (e *Engine) DisableMFA(ctx context.Context, principalID, code string) error {
	if err := e.mfa.Disable(ctx, principalID, code); err != nil {
		e.storeFailure(ctx, "mfa.disable", err)
		e.emitAudit(ctx, auditEventMFADisabled, false, principalID, err, nil)
		return err
	}

	e.metricInc(MetricMFADisabled)
	e.mirrorStatus(ctx, principalID, false)
	e.emitAudit(ctx, auditEventMFADisabled, true, principalID, nil, nil)
	e.logger.InfoContext(ctx, "mfa disabled", "principal_id", principalID)
	return nil
}

// RegenerateBackupCodes replaces every backup code after a live TOTP check and
// returns the new plaintext set.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID, code string) ([]string, error) {
	codes, err := e.mfa.RegenerateBackupCodes(ctx, principalID, code)
	if err != nil {
		e.storeFailure(ctx, "mfa.regenerate", err)
		e.emitAudit(ctx, auditEventBackupCodesGenerated, false, principalID, err, nil)
		return nil, err
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, principalID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}

// MFAStatus returns the enrollment state of principalID.
func (e *Engine) MFAStatus(ctx context.Context, principalID string) (mfa.State, error) {
	state, err := e.mfa.Status(ctx, principalID)
	e.storeFailure(ctx, "mfa.status", err)
	return state, err
}

// RemainingBackupCodes returns how many backup codes are unused.
func (e *Engine) RemainingBackupCodes(ctx context.Context, principalID string) (int, error) {
	n, err := e.mfa.RemainingBackupCodes(ctx, principalID)
	e.storeFailure(ctx, "mfa.remaining", err)
	return n, err
}

// mirrorStatus pushes the MFA flag to the application's user record. The
// enrollment is authoritative, so a mirror failure is logged and not returned.
func (e *Engine) mirrorStatus(ctx context.Context, principalID string, enabled bool) {
	if e.mirror == nil {
		return
	}
	if err := e.mirror.SetMFAEnabled(ctx, principalID, enabled); err != nil {
		e.logger.ErrorContext(ctx, "mfa status mirror failed",
			"principal_id", principalID,
			"enabled", enabled,
			"error", err,
		)
	}
}

func isMFAFailure(err error) bool {
	return errors.Is(err, ErrInvalidMFAToken) || errors.Is(err, ErrMFANotConfigured)
}
