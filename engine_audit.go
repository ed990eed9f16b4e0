package goTrust

import (
	"context"
	"errors"

	"github.com/cepmachine/goTrust/audit"
)

const (
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLoginMFARequired     = "login_mfa_required"
	auditEventMFASetupRequested    = "mfa_setup_requested"
	auditEventMFAEnabled           = "mfa_enabled"
	auditEventMFADisabled          = "mfa_disabled"
	auditEventMFASuccess           = "mfa_success"
	auditEventMFAFailure           = "mfa_failure"
	auditEventBackupCodeUsed       = "backup_code_used"
	auditEventBackupCodesGenerated = "backup_codes_generated"
	auditEventTokenIssued          = "token_issued"
	auditEventTokenRejected        = "token_rejected"
	auditEventPermissionDenied     = "permission_denied"
	auditEventRoleCreated          = "role_created"
	auditEventRoleUpdated          = "role_updated"
	auditEventRoleDeleted          = "role_deleted"
)

// AuditErrorCode is the stable error string carried by failed audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrInactive           AuditErrorCode = "inactive_principal"
	auditErrNotFound           AuditErrorCode = "principal_not_found"
	auditErrMFARequired        AuditErrorCode = "mfa_required"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrMFANotConfigured   AuditErrorCode = "mfa_not_configured"
	auditErrMFAAlreadyEnabled  AuditErrorCode = "mfa_already_enabled"
	auditErrMFAConflict        AuditErrorCode = "mfa_conflict"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrUnauthenticated    AuditErrorCode = "unauthenticated"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrRoleConflict       AuditErrorCode = "role_conflict"
	auditErrRoleNotFound       AuditErrorCode = "role_not_found"
	auditErrUnknownPermission  AuditErrorCode = "unknown_permission"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	meta := metaFromContext(ctx)
	if meta.requestID != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = meta.requestID
	}

	event := audit.Event{
		Timestamp:   e.now().UTC(),
		Type:        eventType,
		PrincipalID: principalID,
		IP:          meta.clientIP,
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrInactivePrincipal):
		return auditErrInactive
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrMFARequired):
		return auditErrMFARequired
	case errors.Is(err, ErrInvalidMFAToken):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFANotConfigured):
		return auditErrMFANotConfigured
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return auditErrMFAAlreadyEnabled
	case errors.Is(err, ErrMFAConcurrentUpdate):
		return auditErrMFAConflict
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrUnauthenticated):
		return auditErrUnauthenticated
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrRoleConflict):
		return auditErrRoleConflict
	case errors.Is(err, ErrRoleNotFound):
		return auditErrRoleNotFound
	case errors.Is(err, ErrUnknownPermission):
		return auditErrUnknownPermission
	case errors.Is(err, ErrMFAStoreUnavailable),
		errors.Is(err, ErrRoleStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// storeFailure records backend errors. It reports whether err was one.
func (e *Engine) storeFailure(ctx context.Context, op string, err error) bool {
	if !errors.Is(err, ErrMFAStoreUnavailable) && !errors.Is(err, ErrRoleStoreUnavailable) {
		return false
	}
	e.metricInc(MetricStoreError)
	e.logger.ErrorContext(ctx, "store unavailable", "op", op, "error", err)
	return true
}
