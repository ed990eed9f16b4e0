package mfa

import (
	"time"

	"github.com/cepmachine/goTrust/backup"
)

// State is the enrollment lifecycle position of a principal.
type State int

const (
	// StateNotConfigured means no record exists.
	StateNotConfigured State = iota
	// StatePendingVerification means a secret was issued but never confirmed.
	StatePendingVerification
	// StateEnabled means the second factor is required at login.
	StateEnabled
)

func (s State) String() string {
	switch s {
	case StatePendingVerification:
		return "pending_verification"
	case StateEnabled:
		return "enabled"
	default:
		return "not_configured"
	}
}

// Record is the persisted enrollment for one principal.
type Record struct {
	PrincipalID       string
	Secret            string
	HashedBackupCodes []backup.Digest
	Enabled           bool
	SetupAt           time.Time
	EnabledAt         time.Time
}

// State derives the lifecycle state of r. A nil record is not configured.
func (r *Record) State() State {
	if r == nil {
		return StateNotConfigured
	}
	if r.Enabled {
		return StateEnabled
	}
	return StatePendingVerification
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.HashedBackupCodes = append([]backup.Digest(nil), r.HashedBackupCodes...)
	return &out
}

// Setup is returned once by Enable. The backup codes are never retrievable again.
type Setup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Method identifies the factor that satisfied a login verification.
type Method int

const (
	// MethodFailed means neither factor matched.
	MethodFailed Method = iota
	// MethodTOTP means a time-based code matched.
	MethodTOTP
	// MethodBackupCode means a backup code matched and was consumed.
	MethodBackupCode
)

func (m Method) String() string {
	switch m {
	case MethodTOTP:
		return "totp"
	case MethodBackupCode:
		return "backup_code"
	default:
		return "failed"
	}
}

// VerificationOutcome reports how a login-time check resolved.
type VerificationOutcome struct {
	Method               Method
	RemainingBackupCodes int
	// LowBackupCodes is set when the remaining count is at or below the
	// configured threshold.
	LowBackupCodes bool
}

// Succeeded reports whether either factor matched.
func (o VerificationOutcome) Succeeded() bool {
	return o.Method != MethodFailed
}
