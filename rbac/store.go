package rbac

import (
	"context"
	"sort"
	"sync"
)

// RoleStore persists custom roles. System roles are never written to it.
//
// CreateRole inserts only and returns ErrRoleConflict when the name is taken.
// SaveRole replaces an existing role. Version changes on every successful
// write, so registries sharing a store can tell when to reload.
type RoleStore interface {
	LoadRoles(ctx context.Context) ([]Role, error)
	CreateRole(ctx context.Context, role Role) error
	SaveRole(ctx context.Context, role Role) error
	DeleteRole(ctx context.Context, name string) error
	Version(ctx context.Context) (uint64, error)
}

// MemoryRoleStore keeps custom roles in process memory.
type MemoryRoleStore struct {
	mu      sync.Mutex
	roles   map[string]Role
	version uint64
}

// NewMemoryRoleStore returns an empty MemoryRoleStore.
func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{roles: make(map[string]Role)}
}

func (s *MemoryRoleStore) LoadRoles(context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryRoleStore) CreateRole(_ context.Context, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.roles[role.Name]; taken {
		return ErrRoleConflict
	}
	s.roles[role.Name] = role.Clone()
	s.version++
	return nil
}

func (s *MemoryRoleStore) SaveRole(_ context.Context, role Role) error {
	s.mu.Lock()
	s.roles[role.Name] = role.Clone()
	s.version++
	s.mu.Unlock()
	return nil
}

func (s *MemoryRoleStore) DeleteRole(_ context.Context, name string) error {
	s.mu.Lock()
	if _, ok := s.roles[name]; ok {
		delete(s.roles, name)
		s.version++
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRoleStore) Version(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}
