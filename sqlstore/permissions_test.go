package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore/permission"
)

func seededStore(t *testing.T) *PermissionStore {
	t.Helper()
	store := testDB(t).Permissions()
	if err := permission.Seed(context.Background(), store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestSeedIsIdempotent(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	if err := permission.Seed(ctx, store); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	roles, err := store.ListRoles(ctx)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	if len(roles) != 4 {
		t.Fatalf("expected 4 system roles, got %d", len(roles))
	}
	super, err := store.GetRoleByName(ctx, permission.SuperAdmin)
	if err != nil {
		t.Fatalf("get super admin: %v", err)
	}
	all, _ := store.ListPermissions(ctx)
	if !super.IsSystem || len(super.Permissions) != len(all) {
		t.Fatalf("super admin grants %d of %d", len(super.Permissions), len(all))
	}
	for _, r := range roles {
		if r.Name == permission.SuperAdmin && len(r.Permissions) != len(all) {
			t.Fatalf("list dropped grants: %d", len(r.Permissions))
		}
	}
}

func TestRoleLifecycle(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, permission.Role{
		Name:        "AUDITOR",
		Permissions: []string{permission.UsersRead, permission.UsersRead},
	})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if _, err := store.CreateRole(ctx, permission.Role{Name: "AUDITOR"}); !errors.Is(err, permission.ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
	got, err := store.GetRole(ctx, role.ID)
	if err != nil || len(got.Permissions) != 1 {
		t.Fatalf("get role = %+v, %v", got, err)
	}

	err = store.SetRolePermissions(ctx, role.ID, []string{"nope:missing"})
	if !errors.Is(err, permission.ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	got, _ = store.GetRole(ctx, role.ID)
	if len(got.Permissions) != 1 {
		t.Fatal("failed grant update was not rolled back")
	}

	if err := store.SetBindingRole(ctx, "admin-1", role.ID); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := store.DeleteRole(ctx, role.ID); !errors.Is(err, permission.ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
	if n, _ := store.CountRoleAssignments(ctx, role.ID); n != 1 {
		t.Fatalf("assignments = %d", n)
	}

	manager, _ := store.GetRoleByName(ctx, permission.Manager)
	if err := store.SetBindingRole(ctx, "admin-1", manager.ID); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if err := store.DeleteRole(ctx, role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}
	if _, err := store.GetRole(ctx, role.ID); !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.UpdateRole(ctx, role.ID, "X", ""); !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("update of deleted role: %v", err)
	}
}

func TestOverridesAndPermissionDelete(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()

	if err := store.CreatePermission(ctx, permission.Permission{Code: "reports:export", Resource: "reports", Action: "export"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := store.SetOverride(ctx, "admin-1", permission.Override{Add: []string{"reports:export"}}); !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("override without binding: %v", err)
	}

	support, _ := store.GetRoleByName(ctx, permission.Support)
	_ = store.SetBindingRole(ctx, "admin-1", support.ID)
	err := store.SetOverride(ctx, "admin-1", permission.Override{
		Add:    []string{"reports:export"},
		Remove: []string{permission.UsersRead},
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	b, err := store.GetBinding(ctx, "admin-1")
	if err != nil {
		t.Fatalf("get binding: %v", err)
	}
	if b.RoleID != support.ID || len(b.Override.Add) != 1 || len(b.Override.Remove) != 1 {
		t.Fatalf("unexpected binding %+v", b)
	}

	if _, err := store.DeletePermission(ctx, permission.UsersRead); !errors.Is(err, permission.ErrPermissionInUse) {
		t.Fatalf("expected ErrPermissionInUse, got %v", err)
	}
	affected, err := store.DeletePermission(ctx, "reports:export")
	if err != nil {
		t.Fatalf("delete permission: %v", err)
	}
	if len(affected) != 1 || affected[0] != "admin-1" {
		t.Fatalf("affected = %v", affected)
	}
	b, _ = store.GetBinding(ctx, "admin-1")
	if len(b.Override.Add) != 0 || len(b.Override.Remove) != 1 {
		t.Fatalf("override not stripped: %+v", b.Override)
	}
	if _, err := store.GetPermission(ctx, "reports:export"); !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("permission survived delete: %v", err)
	}
}

func TestResolverOverSQLStore(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	manager, _ := store.GetRoleByName(ctx, permission.Manager)
	_ = store.SetBindingRole(ctx, "admin-2", manager.ID)

	r, err := permission.NewResolver(store, permission.NewMemoryCache(), permission.ResolverConfig{})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	set, err := r.EffectivePermissions(ctx, "admin-2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, code := range manager.Permissions {
		if !set.Has(code) {
			t.Fatalf("manager set missing %s", code)
		}
	}
}
