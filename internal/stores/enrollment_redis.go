package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cepmachine/goTrust/backup"
	"github.com/cepmachine/goTrust/mfa"
	"github.com/redis/go-redis/v9"
)

const (
	enrollmentRecordVersion1 = 1

	enrollmentFlagEnabled = 1 << 0
)

var (
	ErrEnrollmentBackend = errors.New("enrollment backend unavailable")
	ErrEnrollmentCorrupt = errors.New("enrollment record corrupt")
)

// RedisEnrollmentStore keeps one binary record per principal plus a SET of
// backup code digests. Both keys share a hash tag so MULTI works on a cluster.
type RedisEnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisEnrollmentStore(redisClient redis.UniversalClient, prefix string) *RedisEnrollmentStore {
	if prefix == "" {
		prefix = "gtm"
	}
	return &RedisEnrollmentStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisEnrollmentStore) key(principalID string) string {
	return s.prefix + ":{" + principalID + "}"
}

func (s *RedisEnrollmentStore) codesKey(principalID string) string {
	return s.prefix + ":{" + principalID + "}:codes"
}

func (s *RedisEnrollmentStore) Get(ctx context.Context, principalID string) (*mfa.Record, error) {
	var (
		recordCmd *redis.StringCmd
		codesCmd  *redis.StringSliceCmd
	)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		recordCmd = pipe.Get(ctx, s.key(principalID))
		codesCmd = pipe.SMembers(ctx, s.codesKey(principalID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}

	data, err := recordCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, mfa.ErrRecordNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	record, err := decodeEnrollment(data)
	if err != nil {
		return nil, err
	}

	members := codesCmd.Val()
	record.HashedBackupCodes = make([]backup.Digest, 0, len(members))
	for _, m := range members {
		record.HashedBackupCodes = append(record.HashedBackupCodes, backup.Digest(m))
	}
	return record, nil
}

// Put replaces the record and its whole backup set in one transaction. The
// record key is watched and compared byte for byte with prev's encoding, so a
// write from another process since the caller's read aborts the transaction.
func (s *RedisEnrollmentStore) Put(ctx context.Context, record, prev *mfa.Record) error {
	if record == nil || record.PrincipalID == "" {
		return errors.New("enrollment record requires a principal id")
	}
	encoded, err := encodeEnrollment(record)
	if err != nil {
		return err
	}
	var expected []byte
	if prev != nil {
		if expected, err = encodeEnrollment(prev); err != nil {
			return err
		}
	}

	key := s.key(record.PrincipalID)
	codesKey := s.codesKey(record.PrincipalID)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			if prev != nil {
				return mfa.ErrConcurrentUpdate
			}
		case err != nil:
			return err
		case prev == nil || !bytes.Equal(current, expected):
			return mfa.ErrConcurrentUpdate
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.Del(ctx, codesKey)
			if len(record.HashedBackupCodes) > 0 {
				members := make([]interface{}, 0, len(record.HashedBackupCodes))
				for _, d := range record.HashedBackupCodes {
					members = append(members, string(d))
				}
				pipe.SAdd(ctx, codesKey, members...)
			}
			return nil
		})
		return err
	}, key)
	if err == redis.TxFailedErr || errors.Is(err, mfa.ErrConcurrentUpdate) {
		return mfa.ErrConcurrentUpdate
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

func (s *RedisEnrollmentStore) Delete(ctx context.Context, principalID string) (bool, error) {
	var recordDel *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		recordDel = pipe.Del(ctx, s.key(principalID))
		pipe.Del(ctx, s.codesKey(principalID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return recordDel.Val() > 0, nil
}

// CompareAndRemove relies on SREM reporting the removal to exactly one caller.
// SCARD runs in the same MULTI, so the count is the one right after this removal.
func (s *RedisEnrollmentStore) CompareAndRemove(ctx context.Context, principalID string, digest backup.Digest) (bool, int, error) {
	var (
		removed *redis.IntCmd
		left    *redis.IntCmd
	)
	codesKey := s.codesKey(principalID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, codesKey, string(digest))
		left = pipe.SCard(ctx, codesKey)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return removed.Val() == 1, int(left.Val()), nil
}

func encodeEnrollment(record *mfa.Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(enrollmentRecordVersion1)

	var flags byte
	if record.Enabled {
		flags |= enrollmentFlagEnabled
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, unixNano(record.SetupAt)); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, unixNano(record.EnabledAt)); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 || len(record.Secret) > 65535 {
		return nil, errors.New("enrollment field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Secret))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Secret)

	return buf.Bytes(), nil
}

func decodeEnrollment(data []byte) (*mfa.Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrEnrollmentCorrupt
	}
	if version != enrollmentRecordVersion1 {
		return nil, fmt.Errorf("%w: version %d", ErrEnrollmentCorrupt, version)
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrEnrollmentCorrupt
	}

	var setupAt, enabledAt int64
	if err := binary.Read(reader, binary.BigEndian, &setupAt); err != nil {
		return nil, ErrEnrollmentCorrupt
	}
	if err := binary.Read(reader, binary.BigEndian, &enabledAt); err != nil {
		return nil, ErrEnrollmentCorrupt
	}

	principal, err := readString16(reader)
	if err != nil {
		return nil, ErrEnrollmentCorrupt
	}
	secret, err := readString16(reader)
	if err != nil {
		return nil, ErrEnrollmentCorrupt
	}

	return &mfa.Record{
		PrincipalID: principal,
		Secret:      secret,
		Enabled:     flags&enrollmentFlagEnabled != 0,
		SetupAt:     fromUnixNano(setupAt),
		EnabledAt:   fromUnixNano(enabledAt),
	}, nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// zero time round-trips as 0
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
