package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/cepmachine/goTrust/rbac"
	"github.com/redis/go-redis/v9"
)

var ErrRoleBackend = errors.New("role backend unavailable")

// RedisRoleStore keeps custom roles as JSON values in a single hash keyed by
// role name. A counter next to the hash is bumped with every write.
type RedisRoleStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisRoleStore(redisClient redis.UniversalClient, prefix string) *RedisRoleStore {
	if prefix == "" {
		prefix = "gtr"
	}
	return &RedisRoleStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisRoleStore) key() string {
	return s.prefix + ":roles"
}

func (s *RedisRoleStore) versionKey() string {
	return s.prefix + ":roles:version"
}

func (s *RedisRoleStore) LoadRoles(ctx context.Context) ([]rbac.Role, error) {
	raw, err := s.redis.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}

	roles := make([]rbac.Role, 0, len(raw))
	for name, value := range raw {
		var role rbac.Role
		if err := json.Unmarshal([]byte(value), &role); err != nil {
			return nil, fmt.Errorf("decode role %q: %w", name, err)
		}
		role.IsSystemRole = false
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name < roles[j].Name })
	return roles, nil
}

// CreateRole relies on HSETNX so exactly one writer wins a name.
func (s *RedisRoleStore) CreateRole(ctx context.Context, role rbac.Role) error {
	encoded, err := json.Marshal(role)
	if err != nil {
		return err
	}
	var created *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.HSetNX(ctx, s.key(), role.Name, encoded)
		pipe.Incr(ctx, s.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	if !created.Val() {
		return rbac.ErrRoleConflict
	}
	return nil
}

func (s *RedisRoleStore) SaveRole(ctx context.Context, role rbac.Role) error {
	encoded, err := json.Marshal(role)
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key(), role.Name, encoded)
		pipe.Incr(ctx, s.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return nil
}

func (s *RedisRoleStore) DeleteRole(ctx context.Context, name string) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.key(), name)
		pipe.Incr(ctx, s.versionKey())
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return nil
}

func (s *RedisRoleStore) Version(ctx context.Context) (uint64, error) {
	v, err := s.redis.Get(ctx, s.versionKey()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRoleBackend, err)
	}
	return v, nil
}
