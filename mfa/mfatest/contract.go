// Package mfatest holds a behavioural suite every mfa.Store implementation must pass.
package mfatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/stretchr/testify/require"
)

// RunStoreContract exercises newStore. Each subtest gets a fresh store.
func RunStoreContract(t *testing.T, newStore func(t *testing.T) mfa.Store) {
	t.Helper()

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "missing")
		require.ErrorIs(t, err, mfa.ErrRecordNotFound)
	})

	t.Run("put get round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, rec.PrincipalID, got.PrincipalID)
		require.Equal(t, rec.Secret, got.Secret)
		require.Equal(t, rec.Enabled, got.Enabled)
		require.ElementsMatch(t, rec.HashedBackupCodes, got.HashedBackupCodes)
		require.True(t, rec.SetupAt.Equal(got.SetupAt))
		require.True(t, rec.EnabledAt.Equal(got.EnabledAt))
	})

	t.Run("put replaces backup set", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		prev, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		rec.HashedBackupCodes = []backup.Digest{backup.Hash("NEW0-0001")}
		require.NoError(t, s.Put(ctx, rec, prev))

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, []backup.Digest{backup.Hash("NEW0-0001")}, got.HashedBackupCodes)
	})

	t.Run("pending record has zero enabled time", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		rec.Enabled = false
		rec.EnabledAt = time.Time{}
		require.NoError(t, s.Put(ctx, rec, nil))

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.False(t, got.Enabled)
		require.True(t, got.EnabledAt.IsZero())
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, sampleRecord("u1"), nil))

		deleted, err := s.Delete(ctx, "u1")
		require.NoError(t, err)
		require.True(t, deleted)

		deleted, err = s.Delete(ctx, "u1")
		require.NoError(t, err)
		require.False(t, deleted)

		_, err = s.Get(ctx, "u1")
		require.ErrorIs(t, err, mfa.ErrRecordNotFound)
	})

	t.Run("compare and remove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		removed, remaining, err := s.CompareAndRemove(ctx, "u1", rec.HashedBackupCodes[0])
		require.NoError(t, err)
		require.True(t, removed)
		require.Equal(t, len(rec.HashedBackupCodes)-1, remaining)

		removed, _, err = s.CompareAndRemove(ctx, "u1", rec.HashedBackupCodes[0])
		require.NoError(t, err)
		require.False(t, removed)

		removed, _, err = s.CompareAndRemove(ctx, "other", rec.HashedBackupCodes[1])
		require.NoError(t, err)
		require.False(t, removed)

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, got.HashedBackupCodes, len(rec.HashedBackupCodes)-1)
		require.NotContains(t, got.HashedBackupCodes, rec.HashedBackupCodes[0])
	})

	t.Run("concurrent compare and remove", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		var (
			wg    sync.WaitGroup
			wins  atomic.Int32
			start = make(chan struct{})
		)
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				removed, _, err := s.CompareAndRemove(ctx, "u1", rec.HashedBackupCodes[2])
				if err != nil {
					t.Errorf("CompareAndRemove: %v", err)
					return
				}
				if removed {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, int32(1), wins.Load())
	})

	t.Run("concurrent removes of different codes count down", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			counts []int
			start  = make(chan struct{})
		)
		for _, d := range rec.HashedBackupCodes {
			wg.Add(1)
			go func(d backup.Digest) {
				defer wg.Done()
				<-start
				removed, remaining, err := s.CompareAndRemove(ctx, "u1", d)
				if err != nil || !removed {
					t.Errorf("CompareAndRemove: removed=%v err=%v", removed, err)
					return
				}
				mu.Lock()
				counts = append(counts, remaining)
				mu.Unlock()
			}(d)
		}
		close(start)
		wg.Wait()
		require.ElementsMatch(t, []int{0, 1, 2}, counts)
	})

	t.Run("put rejects a stale read", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := sampleRecord("u1")
		first.Enabled = false
		first.EnabledAt = time.Time{}
		require.NoError(t, s.Put(ctx, first, nil))

		second := sampleRecord("u1")
		second.Secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"
		second.Enabled = false
		second.EnabledAt = time.Time{}
		require.ErrorIs(t, s.Put(ctx, second, nil), mfa.ErrConcurrentUpdate)

		read, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, s.Put(ctx, second, read))

		confirmed := read.Clone()
		confirmed.Enabled = true
		confirmed.EnabledAt = read.SetupAt.Add(time.Minute)
		require.ErrorIs(t, s.Put(ctx, confirmed, read), mfa.ErrConcurrentUpdate)

		got, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, second.Secret, got.Secret)
		require.False(t, got.Enabled)
	})

	t.Run("put ignores backup digests in the comparison", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := sampleRecord("u1")
		require.NoError(t, s.Put(ctx, rec, nil))

		read, err := s.Get(ctx, "u1")
		require.NoError(t, err)
		removed, _, err := s.CompareAndRemove(ctx, "u1", rec.HashedBackupCodes[0])
		require.NoError(t, err)
		require.True(t, removed)

		rec.HashedBackupCodes = []backup.Digest{backup.Hash("NEW0-0001")}
		require.NoError(t, s.Put(ctx, rec, read))
	})
}

func sampleRecord(principalID string) *mfa.Record {
	setup := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mfa.Record{
		PrincipalID: principalID,
		Secret:      "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ",
		HashedBackupCodes: []backup.Digest{
			backup.Hash("AAAA-0001"),
			backup.Hash("AAAA-0002"),
			backup.Hash("AAAA-0003"),
		},
		Enabled:   true,
		SetupAt:   setup,
		EnabledAt: setup.Add(time.Minute),
	}
}
