package permission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/authcore/internal/ids"
)

// MemoryStore is an in-process [Store] for tests and single-node setups.
// It is safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	permissions map[string]*Permission
	bindings    map[string]*Binding
	now         func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]*Role),
		permissions: make(map[string]*Permission),
		bindings:    make(map[string]*Binding),
		now:         time.Now,
	}
}

func (m *MemoryStore) CreateRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range m.roles {
		if r.Name == role.Name {
			return Role{}, ErrRoleExists
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	if _, ok := m.roles[role.ID]; ok {
		return Role{}, ErrRoleExists
	}
	role.CreatedAt = m.now()
	role.Permissions = append([]string(nil), role.Permissions...)
	m.roles[role.ID] = &role
	return cloneRole(&role), nil
}

func (m *MemoryStore) GetRole(_ context.Context, id string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return cloneRole(r), nil
}

func (m *MemoryStore) GetRoleByName(_ context.Context, name string) (Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.roles {
		if r.Name == name {
			return cloneRole(r), nil
		}
	}
	return Role{}, ErrNotFound
}

func (m *MemoryStore) ListRoles(context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, cloneRole(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateRole(_ context.Context, id, name, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[id]
	if !ok {
		return ErrNotFound
	}
	for _, other := range m.roles {
		if other.ID != id && other.Name == name {
			return ErrRoleExists
		}
	}
	r.Name = name
	r.Description = description
	return nil
}

func (m *MemoryStore) DeleteRole(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	for _, b := range m.bindings {
		if b.RoleID == id {
			return ErrRoleInUse
		}
	}
	delete(m.roles, id)
	return nil
}

func (m *MemoryStore) SetRolePermissions(_ context.Context, roleID string, codes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.roles[roleID]
	if !ok {
		return ErrNotFound
	}
	if err := m.knownLocked(codes); err != nil {
		return err
	}
	r.Permissions = dedupe(codes)
	return nil
}

func (m *MemoryStore) CountRoleAssignments(_ context.Context, roleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, b := range m.bindings {
		if b.RoleID == roleID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UsersWithRole(_ context.Context, roleID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, b := range m.bindings {
		if b.RoleID == roleID {
			out = append(out, b.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) CreatePermission(_ context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[p.Code]; ok {
		return ErrPermissionExists
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	p.CreatedAt = m.now()
	m.permissions[p.Code] = &p
	return nil
}

func (m *MemoryStore) GetPermission(_ context.Context, code string) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[code]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return *p, nil
}

func (m *MemoryStore) ListPermissions(context.Context) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *MemoryStore) UpdatePermissionDescription(_ context.Context, code, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.permissions[code]
	if !ok {
		return ErrNotFound
	}
	p.Description = description
	return nil
}

func (m *MemoryStore) DeletePermission(_ context.Context, code string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[code]; !ok {
		return nil, ErrNotFound
	}
	for _, r := range m.roles {
		if contains(r.Permissions, code) {
			return nil, ErrPermissionInUse
		}
	}
	delete(m.permissions, code)

	var affected []string
	for _, b := range m.bindings {
		add, remove := without(b.Override.Add, code), without(b.Override.Remove, code)
		if len(add) != len(b.Override.Add) || len(remove) != len(b.Override.Remove) {
			b.Override = Override{Add: add, Remove: remove}
			affected = append(affected, b.UserID)
		}
	}
	sort.Strings(affected)
	return affected, nil
}

func (m *MemoryStore) CountPermissionGrants(_ context.Context, code string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.roles {
		if contains(r.Permissions, code) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetBinding(_ context.Context, userID string) (Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bindings[userID]
	if !ok {
		return Binding{}, ErrNotFound
	}
	return Binding{
		UserID: b.UserID,
		RoleID: b.RoleID,
		Override: Override{
			Add:    append([]string(nil), b.Override.Add...),
			Remove: append([]string(nil), b.Override.Remove...),
		},
	}, nil
}

func (m *MemoryStore) SetBindingRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if b, ok := m.bindings[userID]; ok {
		b.RoleID = roleID
		return nil
	}
	m.bindings[userID] = &Binding{UserID: userID, RoleID: roleID}
	return nil
}

func (m *MemoryStore) SetOverride(_ context.Context, userID string, ov Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[userID]
	if !ok {
		return ErrNotFound
	}
	if err := m.knownLocked(ov.Add); err != nil {
		return err
	}
	if err := m.knownLocked(ov.Remove); err != nil {
		return err
	}
	b.Override = Override{Add: dedupe(ov.Add), Remove: dedupe(ov.Remove)}
	return nil
}

func (m *MemoryStore) knownLocked(codes []string) error {
	for _, c := range codes {
		if _, ok := m.permissions[c]; !ok {
			return ErrUnknownPermission
		}
	}
	return nil
}

func cloneRole(r *Role) Role {
	out := *r
	out.Permissions = append([]string(nil), r.Permissions...)
	return out
}

func dedupe(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func contains(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func without(codes []string, code string) []string {
	if !contains(codes, code) {
		return codes
	}
	out := make([]string, 0, len(codes)-1)
	for _, c := range codes {
		if c != code {
			out = append(out, c)
		}
	}
	return out
}
