package mfa

import (
	"context"
	"errors"
	"sync"

	"github.com/cepmachine/goTrust/backup"
)

var (
	// ErrRecordNotFound is returned by stores when a principal has no record.
	ErrRecordNotFound = errors.New("mfa record not found")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("mfa store unavailable")
	// ErrConcurrentUpdate is returned when the enrollment changed between the
	// read and the write of a lifecycle step.
	ErrConcurrentUpdate = errors.New("mfa enrollment changed concurrently")
)

// Store persists enrollment records.
//
// Put writes record only if the stored enrollment still matches prev, the
// record the caller read, or is still absent when prev is nil. Secret, enabled
// flag and timestamps are compared; backup digests are not. A mismatch returns
// ErrConcurrentUpdate.
//
// CompareAndRemove must delete digest from the principal's backup set, report
// true only for the single caller that removed it, and return the number of
// digests left right after that removal.
type Store interface {
	Get(ctx context.Context, principalID string) (*Record, error)
	Put(ctx context.Context, record, prev *Record) error
	Delete(ctx context.Context, principalID string) (bool, error)
	CompareAndRemove(ctx context.Context, principalID string, digest backup.Digest) (removed bool, remaining int, err error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, principalID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[principalID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, record, prev *Record) error {
	if record == nil || record.PrincipalID == "" {
		return errors.New("mfa record requires a principal id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !SameEnrollment(s.records[record.PrincipalID], prev) {
		return ErrConcurrentUpdate
	}
	s.records[record.PrincipalID] = record.Clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, principalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[principalID]; !ok {
		return false, nil
	}
	delete(s.records, principalID)
	return true, nil
}

func (s *MemoryStore) CompareAndRemove(_ context.Context, principalID string, digest backup.Digest) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[principalID]
	if !ok {
		return false, 0, nil
	}
	next, removed := backup.Remove(rec.HashedBackupCodes, digest)
	if !removed {
		return false, len(rec.HashedBackupCodes), nil
	}
	rec.HashedBackupCodes = next
	return true, len(next), nil
}

// SameEnrollment reports whether a and b hold the same secret, enabled flag and
// timestamps. Two nil records match.
func SameEnrollment(a, b *Record) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.PrincipalID == b.PrincipalID &&
		a.Secret == b.Secret &&
		a.Enabled == b.Enabled &&
		a.SetupAt.Equal(b.SetupAt) &&
		a.EnabledAt.Equal(b.EnabledAt)
}
