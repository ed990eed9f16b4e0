// Package mfa drives second-factor enrollment for a principal.
//
// The lifecycle is NotConfigured -> PendingVerification -> Enabled, and back to
// NotConfigured on disable. Only a live TOTP code moves a principal between
// states; backup codes are accepted at login and nowhere else.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/internal/keylock"
	"github.com/cepmachine/goTrust/totp"
)

var (
	// ErrInvalidToken is the single failure returned for a wrong code, whichever
	// factor was tried.
	ErrInvalidToken = errors.New("invalid mfa token")
	// ErrNotConfigured is returned when no enabled enrollment exists.
	ErrNotConfigured = errors.New("mfa not configured")
	// ErrAlreadyEnabled is returned when enabling or confirming an active enrollment.
	ErrAlreadyEnabled = errors.New("mfa already enabled")
	// ErrInvalidPrincipal is returned for an empty principal id.
	ErrInvalidPrincipal = errors.New("mfa principal id is required")
)

// Manager runs the enrollment state machine against a Store. It is safe for
// concurrent use. Steps on one principal are serialized in process, and every
// write is conditional on the record the step read, so managers in different
// processes sharing a Store cannot overwrite each other's enrollment.
type Manager struct {
	totp         *totp.Engine
	vault        *backup.Vault
	store        Store
	locks        *keylock.Map
	now          func() time.Time
	lowThreshold int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock sets the clock used for SetupAt and EnabledAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLowBackupCodeThreshold flags outcomes whose remaining count is at or
// below n.
func WithLowBackupCodeThreshold(n int) Option {
	return func(m *Manager) {
		m.lowThreshold = n
	}
}

// NewManager wires a Manager. All dependencies are required.
func NewManager(store Store, engine *totp.Engine, vault *backup.Vault, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("mfa store is required")
	}
	if engine == nil {
		return nil, errors.New("totp engine is required")
	}
	if vault == nil {
		return nil, errors.New("backup vault is required")
	}
	m := &Manager{
		totp:  engine,
		vault: vault,
		store: store,
		locks: keylock.New(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

/*
====================================================================================
LIFECYCLE
====================================================================================
*/

// Enable issues a fresh secret and backup set and leaves the principal pending
// verification. A pending enrollment is replaced; an enabled one is refused.
func (m *Manager) Enable(ctx context.Context, principalID, accountLabel string) (*Setup, error) {
	if strings.TrimSpace(principalID) == "" {
		return nil, ErrInvalidPrincipal
	}
	unlock := m.locks.Lock(principalID)
	defer unlock()

	existing, err := m.load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if existing.State() == StateEnabled {
		return nil, ErrAlreadyEnabled
	}

	secret, err := m.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}
	if accountLabel == "" {
		accountLabel = principalID
	}
	uri, err := m.totp.ProvisioningURI(secret, accountLabel)
	if err != nil {
		return nil, err
	}
	set, err := m.vault.Regenerate()
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	rec := &Record{
		PrincipalID:       principalID,
		Secret:            secret,
		HashedBackupCodes: set.Digests,
		SetupAt:           m.now().UTC(),
	}
	if err := m.put(ctx, rec, existing); err != nil {
		return nil, err
	}

	return &Setup{
		Secret:          secret,
		ProvisioningURI: uri,
		BackupCodes:     set.Codes,
	}, nil
}

// ConfirmSetup moves a pending enrollment to enabled once token matches the
// issued secret. Backup codes are not accepted here.
func (m *Manager) ConfirmSetup(ctx context.Context, principalID, token string) error {
	unlock := m.locks.Lock(principalID)
	defer unlock()

	rec, err := m.load(ctx, principalID)
	if err != nil {
		return err
	}
	switch rec.State() {
	case StateNotConfigured:
		return ErrNotConfigured
	case StateEnabled:
		return ErrAlreadyEnabled
	}
	if !m.totp.Verify(rec.Secret, token) {
		return ErrInvalidToken
	}

	prev := rec.Clone()
	rec.Enabled = true
	rec.EnabledAt = m.now().UTC()
	return m.put(ctx, rec, prev)
}

// VerifyForLogin checks token as a TOTP code, then as a backup code. A matching
// backup code is consumed. Failure never says which factor was tried.
func (m *Manager) VerifyForLogin(ctx context.Context, principalID, token string) (VerificationOutcome, error) {
	failed := VerificationOutcome{Method: MethodFailed}

	rec, err := m.load(ctx, principalID)
	if err != nil {
		return failed, err
	}
	if rec.State() != StateEnabled {
		return failed, ErrNotConfigured
	}

	if m.totp.Verify(rec.Secret, token) {
		return m.outcome(MethodTOTP, len(rec.HashedBackupCodes)), nil
	}

	digest, ok := backup.Verify(token, rec.HashedBackupCodes)
	if !ok {
		return failed, ErrInvalidToken
	}
	removed, remaining, err := m.store.CompareAndRemove(ctx, principalID, digest)
	if err != nil {
		return failed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !removed {
		return failed, ErrInvalidToken
	}
	return m.outcome(MethodBackupCode, remaining), nil
}

// Disable removes the enrollment after a live TOTP check. Disabling a pending
// enrollment cancels the setup.
func (m *Manager) Disable(ctx context.Context, principalID, token string) error {
	unlock := m.locks.Lock(principalID)
	defer unlock()

	rec, err := m.load(ctx, principalID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotConfigured
	}
	if !m.totp.Verify(rec.Secret, token) {
		return ErrInvalidToken
	}
	if _, err := m.store.Delete(ctx, principalID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RegenerateBackupCodes replaces the backup set after a live TOTP check and
// returns the new plaintext codes. The enabled flag is left as is.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, principalID, token string) ([]string, error) {
	unlock := m.locks.Lock(principalID)
	defer unlock()

	rec, err := m.load(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotConfigured
	}
	if !m.totp.Verify(rec.Secret, token) {
		return nil, ErrInvalidToken
	}

	set, err := m.vault.Regenerate()
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	prev := rec.Clone()
	rec.HashedBackupCodes = set.Digests
	if err := m.put(ctx, rec, prev); err != nil {
		return nil, err
	}
	return set.Codes, nil
}

/*
====================================================================================
QUERIES
====================================================================================
*/

// Status returns the lifecycle state of principalID.
func (m *Manager) Status(ctx context.Context, principalID string) (State, error) {
	rec, err := m.load(ctx, principalID)
	if err != nil {
		return StateNotConfigured, err
	}
	return rec.State(), nil
}

// IsEnabled reports whether login requires a second factor.
func (m *Manager) IsEnabled(ctx context.Context, principalID string) (bool, error) {
	state, err := m.Status(ctx, principalID)
	return state == StateEnabled, err
}

// RemainingBackupCodes returns the number of unused backup codes.
func (m *Manager) RemainingBackupCodes(ctx context.Context, principalID string) (int, error) {
	rec, err := m.load(ctx, principalID)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, ErrNotConfigured
	}
	return len(rec.HashedBackupCodes), nil
}

// load returns nil without error when no record exists.
func (m *Manager) load(ctx context.Context, principalID string) (*Record, error) {
	if principalID == "" {
		return nil, ErrInvalidPrincipal
	}
	rec, err := m.store.Get(ctx, principalID)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (m *Manager) put(ctx context.Context, rec, prev *Record) error {
	err := m.store.Put(ctx, rec, prev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConcurrentUpdate):
		return ErrConcurrentUpdate
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

func (m *Manager) outcome(method Method, remaining int) VerificationOutcome {
	if remaining < 0 {
		remaining = 0
	}
	return VerificationOutcome{
		Method:               method,
		RemainingBackupCodes: remaining,
		LowBackupCodes:       remaining <= m.lowThreshold,
	}
}
