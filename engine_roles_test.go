package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/authcore/permission"
)

func roleByName(t *testing.T, env *testEnv, actorID, name string) permission.Role {
	t.Helper()
	roles, err := env.engine.ListRoles(context.Background(), actorID)
	if err != nil {
		t.Fatalf("list roles: %v", err)
	}
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("role %s not found", name)
	return permission.Role{}
}

func TestSupportCannotWriteRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	agent := env.addUser(t, "agent@example.com", "correct-horse-1", KindAdmin, true)

	support := roleByName(t, env, root.UserID, permission.Support)
	if err := env.engine.AssignRole(ctx, root.UserID, agent.UserID, support.ID); err != nil {
		t.Fatalf("assign support: %v", err)
	}

	pair, err := env.engine.Login(ctx, "agent@example.com", "correct-horse-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.Role != permission.Support {
		t.Fatalf("role = %q", pair.Role)
	}
	if _, err := env.engine.Authorize(ctx, pair.AccessToken, permission.RolesWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("support must not write roles, got %v", err)
	}
	_, err = env.engine.CreateRole(ctx, agent.UserID, "AUDITOR", "", []string{permission.UsersRead})
	if !errors.Is(err, ErrPermissionDenied) || ErrorCode(err) != "PERM_001" {
		t.Fatalf("support created a role: %v", err)
	}
}

func TestDeleteRoleInUse(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	clerk := env.addUser(t, "clerk@example.com", "correct-horse-1", KindAdmin, true)

	role, err := env.engine.CreateRole(ctx, root.UserID, "clerk", "Order desk", []string{permission.OrdersRead})
	if err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := env.engine.AssignRole(ctx, root.UserID, clerk.UserID, role.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	err = env.engine.DeleteRole(ctx, root.UserID, role.ID)
	if !errors.Is(err, ErrRoleInUse) || ErrorCode(err) != "ROLE_003" {
		t.Fatalf("expected role in use, got %v", err)
	}

	system := roleByName(t, env, root.UserID, permission.Manager)
	if err := env.engine.DeleteRole(ctx, root.UserID, system.ID); !errors.Is(err, ErrSystemRoleImmutable) {
		t.Fatalf("expected system role immutable, got %v", err)
	}
}

func TestOverrideRemovalWinsAndRecheck(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Permission.RecheckOnAuthorize = true
	})
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	mgr := env.addUser(t, "mgr@example.com", "correct-horse-1", KindAdmin, true)

	manager := roleByName(t, env, root.UserID, permission.Manager)
	if err := env.engine.AssignRole(ctx, root.UserID, mgr.UserID, manager.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	pair, err := env.engine.Login(ctx, "mgr@example.com", "correct-horse-1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, pair.AccessToken, permission.OrdersWrite); err != nil {
		t.Fatalf("manager should write orders: %v", err)
	}

	err = env.engine.SetOverride(ctx, root.UserID, mgr.UserID, permission.Override{
		Add:    []string{permission.OrdersWrite},
		Remove: []string{permission.OrdersWrite},
	})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}

	// The token still carries orders:write; the recheck sees the override.
	if _, err := env.engine.Authorize(ctx, pair.AccessToken, permission.OrdersWrite); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("removal must win immediately, got %v", err)
	}
	codes, err := env.engine.EffectivePermissions(ctx, mgr.UserID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	for _, c := range codes {
		if c == permission.OrdersWrite {
			t.Fatalf("orders:write still effective: %v", codes)
		}
	}
}

func TestSuperAdminKeepsWildcard(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")

	err := env.engine.SetOverride(ctx, root.UserID, root.UserID, permission.Override{Remove: []string{permission.UsersRead}})
	if err != nil {
		t.Fatalf("set override: %v", err)
	}
	codes, err := env.engine.EffectivePermissions(ctx, root.UserID)
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(codes) != 1 || codes[0] != permission.Wildcard {
		t.Fatalf("super admin lost wildcard: %v", codes)
	}
}

func TestAssignRoleRequiresAdminAccount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	buyer := env.addUser(t, "buyer@example.com", "correct-horse-1", KindCustomer, true)

	support := roleByName(t, env, root.UserID, permission.Support)
	if err := env.engine.AssignRole(ctx, root.UserID, buyer.UserID, support.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("customer got an admin role: %v", err)
	}
	if err := env.engine.BootstrapSuperAdmin(ctx, root.UserID); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("second bootstrap must be refused, got %v", err)
	}
}

func TestAdminActionsAreAudited(t *testing.T) {
	sink := NewChannelSink(16)
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.BufferSize = 16
	}, func(b *Builder) {
		b.WithAuditSink(sink)
	})
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")

	if _, err := env.engine.CreatePermission(ctx, root.UserID, "reports:read", "Read reports"); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	env.engine.Close()

	var types []string
	for {
		select {
		case ev := <-sink.Events():
			types = append(types, ev.EventType)
			if ev.EventType == auditPermissionCreated && (ev.ActorID != root.UserID || ev.Target != "reports:read" || !ev.Success) {
				t.Fatalf("unexpected audit event %+v", ev)
			}
			continue
		default:
		}
		break
	}
	if len(types) != 2 || types[0] != auditSuperAdminBootstrap || types[1] != auditPermissionCreated {
		t.Fatalf("audit trail = %v", types)
	}
}

func TestCreateAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	manager := roleByName(t, env, root.UserID, permission.Manager)

	user, err := env.engine.CreateAdmin(ctx, root.UserID, " Mia@Example.com ", "correct-horse-1", manager.ID)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	if user.Kind != KindAdmin || !user.IsVerified || !user.IsActive || user.Email != "mia@example.com" {
		t.Fatalf("created %+v", user)
	}

	pair, err := env.engine.Login(ctx, "mia@example.com", "correct-horse-1")
	if err != nil {
		t.Fatalf("new admin login: %v", err)
	}
	if pair.Role != permission.Manager {
		t.Fatalf("role = %q", pair.Role)
	}
	if _, err := env.engine.Authorize(ctx, pair.AccessToken, permission.UsersWrite); err != nil {
		t.Fatalf("manager lacks users:write: %v", err)
	}

	_, err = env.engine.CreateAdmin(ctx, root.UserID, "mia@example.com", "correct-horse-2", manager.ID)
	if !errors.Is(err, ErrAccountExists) {
		t.Fatalf("duplicate email: %v", err)
	}
}

func TestCreateAdminRefusalsStoreNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	root := env.addSuperAdmin(t, "root@example.com", "correct-horse-1")
	agent := env.addUser(t, "agent@example.com", "correct-horse-1", KindAdmin, true)
	support := roleByName(t, env, root.UserID, permission.Support)
	customer := roleByName(t, env, root.UserID, permission.Customer)
	if err := env.engine.AssignRole(ctx, root.UserID, agent.UserID, support.ID); err != nil {
		t.Fatalf("assign support: %v", err)
	}

	tests := []struct {
		name    string
		actor   string
		email   string
		roleID  string
		wantErr error
		code    string
	}{
		{"support lacks admins:manage", agent.UserID, "one@example.com", support.ID, ErrPermissionDenied, "PERM_001"},
		{"customer role is fixed", root.UserID, "two@example.com", customer.ID, permission.ErrCustomerFixed, "ROLE_004"},
		{"unknown role", root.UserID, "three@example.com", "no-such-role", permission.ErrNotFound, "PERM_002"},
		{"malformed email", root.UserID, "not-an-email", support.ID, ErrInvalidInput, "VAL_001"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.CreateAdmin(ctx, tc.actor, tc.email, "correct-horse-1", tc.roleID)
			if !errors.Is(err, tc.wantErr) || ErrorCode(err) != tc.code {
				t.Fatalf("got %v (%s), want %v", err, ErrorCode(err), tc.wantErr)
			}
			if _, err := env.users.GetUserByEmail(ctx, tc.email); !errors.Is(err, ErrUserNotFound) {
				t.Fatalf("refused request stored %s", tc.email)
			}
		})
	}
}
