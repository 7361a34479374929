package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fixture struct {
	store    *MemoryStore
	resolver *Resolver
	service  *Service
	roles    map[string]string
}

const rootID = "root-admin"

func newFixture(t *testing.T, cache Cache) *fixture {
	t.Helper()
	ctx := context.Background()

	store := NewMemoryStore()
	resolver, err := NewResolver(store, cache, ResolverConfig{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	service, err := NewService(store, resolver)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if err := service.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := service.BootstrapSuperAdmin(ctx, rootID); err != nil {
		t.Fatalf("BootstrapSuperAdmin: %v", err)
	}

	roles := map[string]string{}
	list, err := store.ListRoles(ctx)
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	for _, r := range list {
		roles[r.Name] = r.ID
	}
	return &fixture{store: store, resolver: resolver, service: service, roles: roles}
}

func (f *fixture) assign(t *testing.T, userID, role string) {
	t.Helper()
	if err := f.service.AssignRole(context.Background(), rootID, userID, f.roles[role]); err != nil {
		t.Fatalf("AssignRole(%s, %s): %v", userID, role, err)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.service.Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	roles, _ := f.store.ListRoles(ctx)
	if len(roles) != 4 {
		t.Fatalf("roles = %d, want 4", len(roles))
	}
	for _, r := range roles {
		if !r.IsSystem {
			t.Fatalf("seeded role %s is not marked system", r.Name)
		}
	}
}

func TestBootstrapOnlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.service.BootstrapSuperAdmin(context.Background(), "intruder"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSuperAdminAlwaysWildcard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.service.CreatePermission(ctx, rootID, "reports:export", "Export reports"); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	set, err := f.resolver.EffectivePermissions(ctx, rootID)
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if !set.IsAll() || !set.Has("reports:export") {
		t.Fatal("super admin must hold every code, including new ones")
	}
}

func TestSupportCannotWriteRoles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.assign(t, "support-1", Support)

	ok, err := f.resolver.RequirePermissions(ctx, "support-1", RolesWrite)
	if err != nil {
		t.Fatalf("RequirePermissions: %v", err)
	}
	if ok {
		t.Fatal("SUPPORT must not hold roles:write")
	}
	if _, err := f.service.CreateRole(ctx, "support-1", "auditor", "", nil); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestOverrideRemovalBeatsRoleGrant(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.assign(t, "mgr-1", Manager)

	err := f.service.SetOverride(ctx, rootID, "mgr-1", Override{
		Add:    []string{SystemConfig, OrdersWrite},
		Remove: []string{OrdersWrite},
	})
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	set, err := f.resolver.EffectivePermissions(ctx, "mgr-1")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if set.Has(OrdersWrite) {
		t.Fatal("removed code must not be granted even though the role has it")
	}
	if !set.Has(SystemConfig) || !set.Has(UsersRead) {
		t.Fatalf("unexpected set %v", set.Codes())
	}
}

func TestOverrideRequiresAdminsManage(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.assign(t, "mgr-1", Manager)
	f.assign(t, "mgr-2", Manager)

	err := f.service.SetOverride(ctx, "mgr-1", "mgr-2", Override{Add: []string{SystemConfig}})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.service.SetOverride(ctx, "unknown-user", "mgr-2", Override{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-admin actor: expected ErrForbidden, got %v", err)
	}
}

func TestSystemRolesImmutable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, name := range []string{SuperAdmin, Manager, Support, Customer} {
		id := f.roles[name]
		if err := f.service.UpdateRole(ctx, rootID, id, "RENAMED", ""); !errors.Is(err, ErrSystemRoleImmutable) {
			t.Fatalf("UpdateRole(%s): expected ErrSystemRoleImmutable, got %v", name, err)
		}
		if err := f.service.SetRolePermissions(ctx, rootID, id, []string{UsersRead}); !errors.Is(err, ErrSystemRoleImmutable) {
			t.Fatalf("SetRolePermissions(%s): expected ErrSystemRoleImmutable, got %v", name, err)
		}
		if err := f.service.DeleteRole(ctx, rootID, id); !errors.Is(err, ErrSystemRoleImmutable) {
			t.Fatalf("DeleteRole(%s): expected ErrSystemRoleImmutable, got %v", name, err)
		}
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, rootID, "auditor", "Read-only", []string{UsersRead})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if role.Name != "AUDITOR" {
		t.Fatalf("role name = %q, want normalized AUDITOR", role.Name)
	}
	if err := f.service.AssignRole(ctx, rootID, "aud-1", role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if err := f.service.DeleteRole(ctx, rootID, role.ID); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
	if _, err := f.store.GetRole(ctx, role.ID); err != nil {
		t.Fatalf("role must survive: %v", err)
	}

	if err := f.service.AssignRole(ctx, rootID, "aud-1", f.roles[Support]); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := f.service.DeleteRole(ctx, rootID, role.ID); err != nil {
		t.Fatalf("DeleteRole after reassignment: %v", err)
	}
}

func TestDeletePermissionInUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.service.DeletePermission(ctx, rootID, OrdersRead); !errors.Is(err, ErrPermissionInUse) {
		t.Fatalf("expected ErrPermissionInUse, got %v", err)
	}

	if _, err := f.service.CreatePermission(ctx, rootID, "reports:export", ""); err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	f.assign(t, "mgr-1", Manager)
	if err := f.service.SetOverride(ctx, rootID, "mgr-1", Override{Add: []string{"reports:export"}}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if err := f.service.DeletePermission(ctx, rootID, "reports:export"); err != nil {
		t.Fatalf("DeletePermission: %v", err)
	}
	set, err := f.resolver.EffectivePermissions(ctx, "mgr-1")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if set.Has("reports:export") {
		t.Fatal("deleted permission must disappear from overrides")
	}
}

func TestCatalogInputErrors(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.service.CreatePermission(ctx, rootID, "bad code", ""); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := f.service.CreatePermission(ctx, rootID, UsersRead, ""); !errors.Is(err, ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}
	if _, err := f.service.CreateRole(ctx, rootID, "manager", "", nil); !errors.Is(err, ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists for system name, got %v", err)
	}
	if _, err := f.service.CreateRole(ctx, rootID, "ops", "", []string{"nope:nope"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected ErrUnknownPermission, got %v", err)
	}
	if err := f.service.AssignRole(ctx, rootID, "admin-x", f.roles[Customer]); !errors.Is(err, ErrCustomerFixed) {
		t.Fatalf("expected ErrCustomerFixed, got %v", err)
	}
}

func TestRoleChangeInvalidatesCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	f := newFixture(t, NewRedisCache(rdb, "t:"))
	ctx := context.Background()

	role, err := f.service.CreateRole(ctx, rootID, "ops", "", []string{OrdersRead})
	if err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if err := f.service.AssignRole(ctx, rootID, "ops-1", role.ID); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}

	if ok, _ := f.resolver.RequirePermissions(ctx, "ops-1", OrdersWrite); ok {
		t.Fatal("ops role should not grant orders:write yet")
	}
	if !mr.Exists("t:perm:user:ops-1") {
		t.Fatal("resolved set should be cached")
	}
	ttl := mr.TTL("t:perm:user:ops-1")
	if ttl <= 0 || ttl > DefaultCacheTTL {
		t.Fatalf("cache TTL = %v", ttl)
	}

	if err := f.service.SetRolePermissions(ctx, rootID, role.ID, []string{OrdersRead, OrdersWrite}); err != nil {
		t.Fatalf("SetRolePermissions: %v", err)
	}
	// The very next read must see the change, well inside the cache TTL.
	ok, err := f.resolver.RequirePermissions(ctx, "ops-1", OrdersWrite)
	if err != nil {
		t.Fatalf("RequirePermissions: %v", err)
	}
	if !ok {
		t.Fatal("role change must be visible immediately")
	}
}

func TestCacheHitsAreReported(t *testing.T) {
	var hits, misses int
	store := NewMemoryStore()
	clock := time.Unix(1_700_000_000, 0)
	cache := NewMemoryCache().WithClock(func() time.Time { return clock })
	resolver, err := NewResolver(store, cache, ResolverConfig{
		OnCacheLookup: func(hit bool) {
			if hit {
				hits++
			} else {
				misses++
			}
		},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ctx := context.Background()
	if err := Seed(ctx, store); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	support, _ := store.GetRoleByName(ctx, Support)
	if err := store.SetBindingRole(ctx, "s-1", support.ID); err != nil {
		t.Fatalf("SetBindingRole: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := resolver.EffectivePermissions(ctx, "s-1"); err != nil {
			t.Fatalf("EffectivePermissions: %v", err)
		}
	}
	if hits != 2 || misses != 1 {
		t.Fatalf("hits=%d misses=%d, want 2/1", hits, misses)
	}

	clock = clock.Add(DefaultCacheTTL)
	if _, err := resolver.EffectivePermissions(ctx, "s-1"); err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if misses != 2 {
		t.Fatalf("entry should expire after the TTL, misses=%d", misses)
	}
}

func TestNonAdminHasNoBinding(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.resolver.EffectivePermissions(context.Background(), "customer-1"); !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin, got %v", err)
	}
}
