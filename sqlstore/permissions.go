package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/MrEthical07/authcore/internal/ids"
	"github.com/MrEthical07/authcore/permission"
)

var _ permission.Store = (*PermissionStore)(nil)

const (
	effectAdd    = "add"
	effectRemove = "remove"
)

// PermissionStore is a [permission.Store] over the roles, permissions,
// role_permissions, admin_bindings and admin_overrides tables.
type PermissionStore struct {
	db *DB
}

func (s *PermissionStore) CreateRole(ctx context.Context, role permission.Role) (permission.Role, error) {
	if role.ID == "" {
		role.ID = ids.New()
	}
	role.CreatedAt = s.db.now().UTC()
	codes := dedupe(role.Permissions)

	err := s.db.tx(ctx, func(tx *txn) error {
		if _, err := tx.exec(ctx,
			`insert into roles (id, name, description, is_system, created_at) values (?, ?, ?, ?, ?)`,
			role.ID, role.Name, role.Description, role.IsSystem, millis(role.CreatedAt),
		); err != nil {
			if tx.dialect.isUnique(err) {
				return permission.ErrRoleExists
			}
			return err
		}
		return grantLocked(ctx, tx, role.ID, codes)
	})
	if err != nil {
		return permission.Role{}, err
	}
	role.Permissions = codes
	return role, nil
}

func (s *PermissionStore) GetRole(ctx context.Context, id string) (permission.Role, error) {
	return s.getRole(ctx, `where id = ?`, id)
}

func (s *PermissionStore) GetRoleByName(ctx context.Context, name string) (permission.Role, error) {
	return s.getRole(ctx, `where name = ?`, name)
}

func (s *PermissionStore) getRole(ctx context.Context, where, arg string) (permission.Role, error) {
	var (
		role    permission.Role
		created int64
	)
	err := s.db.queryRow(ctx,
		`select id, name, description, is_system, created_at from roles `+where, arg,
	).Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Role{}, permission.ErrNotFound
	}
	if err != nil {
		return permission.Role{}, err
	}
	role.CreatedAt = fromMillis(created)

	rows, err := s.db.query(ctx,
		`select p.code from role_permissions rp
		 join permissions p on p.id = rp.permission_id
		 where rp.role_id = ? order by p.code`, role.ID)
	if err != nil {
		return permission.Role{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return permission.Role{}, err
		}
		role.Permissions = append(role.Permissions, code)
	}
	return role, rows.Err()
}

func (s *PermissionStore) ListRoles(ctx context.Context) ([]permission.Role, error) {
	rows, err := s.db.query(ctx,
		`select id, name, description, is_system, created_at from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []permission.Role
	index := map[string]int{}
	for rows.Next() {
		var (
			role    permission.Role
			created int64
		)
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystem, &created); err != nil {
			return nil, err
		}
		role.CreatedAt = fromMillis(created)
		index[role.ID] = len(roles)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	grants, err := s.db.query(ctx,
		`select rp.role_id, p.code from role_permissions rp
		 join permissions p on p.id = rp.permission_id
		 order by p.code`)
	if err != nil {
		return nil, err
	}
	defer grants.Close()
	for grants.Next() {
		var roleID, code string
		if err := grants.Scan(&roleID, &code); err != nil {
			return nil, err
		}
		if i, ok := index[roleID]; ok {
			roles[i].Permissions = append(roles[i].Permissions, code)
		}
	}
	return roles, grants.Err()
}

func (s *PermissionStore) UpdateRole(ctx context.Context, id, name, description string) error {
	res, err := s.db.exec(ctx,
		`update roles set name = ?, description = ? where id = ?`, name, description, id)
	if err != nil {
		if s.db.dialect.isUnique(err) {
			return permission.ErrRoleExists
		}
		return err
	}
	return requireRow(res)
}

func (s *PermissionStore) DeleteRole(ctx context.Context, id string) error {
	return s.db.tx(ctx, func(tx *txn) error {
		if err := roleExists(ctx, tx, id); err != nil {
			return err
		}
		var n int
		if err := tx.queryRow(ctx,
			`select count(*) from admin_bindings where role_id = ?`, id).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return permission.ErrRoleInUse
		}
		if _, err := tx.exec(ctx, `delete from role_permissions where role_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `delete from roles where id = ?`, id); err != nil {
			if tx.dialect.isForeignKey(err) {
				return permission.ErrRoleInUse
			}
			return err
		}
		return nil
	})
}

func (s *PermissionStore) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	return s.db.tx(ctx, func(tx *txn) error {
		if err := roleExists(ctx, tx, roleID); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `delete from role_permissions where role_id = ?`, roleID); err != nil {
			return err
		}
		return grantLocked(ctx, tx, roleID, dedupe(codes))
	})
}

func (s *PermissionStore) CountRoleAssignments(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.queryRow(ctx, `select count(*) from admin_bindings where role_id = ?`, roleID).Scan(&n)
	return n, err
}

func (s *PermissionStore) UsersWithRole(ctx context.Context, roleID string) ([]string, error) {
	rows, err := s.db.query(ctx,
		`select user_id from admin_bindings where role_id = ? order by user_id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PermissionStore) CreatePermission(ctx context.Context, p permission.Permission) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	_, err := s.db.exec(ctx,
		`insert into permissions (id, code, resource, action, description, created_at) values (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.Resource, p.Action, p.Description, millis(s.db.now()),
	)
	if err != nil && s.db.dialect.isUnique(err) {
		return permission.ErrPermissionExists
	}
	return err
}

func (s *PermissionStore) GetPermission(ctx context.Context, code string) (permission.Permission, error) {
	p, err := scanPermission(s.db.queryRow(ctx,
		`select id, code, resource, action, description, created_at from permissions where code = ?`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Permission{}, permission.ErrNotFound
	}
	return p, err
}

func (s *PermissionStore) ListPermissions(ctx context.Context) ([]permission.Permission, error) {
	rows, err := s.db.query(ctx,
		`select id, code, resource, action, description, created_at from permissions order by code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []permission.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PermissionStore) UpdatePermissionDescription(ctx context.Context, code, description string) error {
	res, err := s.db.exec(ctx,
		`update permissions set description = ? where code = ?`, description, code)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePermission refuses while a role grants code, then strips it from
// every override and returns the admins whose override changed.
func (s *PermissionStore) DeletePermission(ctx context.Context, code string) ([]string, error) {
	var affected []string
	err := s.db.tx(ctx, func(tx *txn) error {
		var id string
		err := tx.queryRow(ctx, `select id from permissions where code = ?`, code).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return permission.ErrNotFound
		}
		if err != nil {
			return err
		}

		var grants int
		if err := tx.queryRow(ctx,
			`select count(*) from role_permissions where permission_id = ?`, id).Scan(&grants); err != nil {
			return err
		}
		if grants > 0 {
			return permission.ErrPermissionInUse
		}

		rows, err := tx.query(ctx,
			`select distinct user_id from admin_overrides where permission_id = ? order by user_id`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var userID string
			if err := rows.Scan(&userID); err != nil {
				rows.Close()
				return err
			}
			affected = append(affected, userID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.exec(ctx, `delete from admin_overrides where permission_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.exec(ctx, `delete from permissions where id = ?`, id); err != nil {
			if tx.dialect.isForeignKey(err) {
				return permission.ErrPermissionInUse
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return affected, nil
}

func (s *PermissionStore) CountPermissionGrants(ctx context.Context, code string) (int, error) {
	var n int
	err := s.db.queryRow(ctx,
		`select count(*) from role_permissions rp
		 join permissions p on p.id = rp.permission_id
		 where p.code = ?`, code).Scan(&n)
	return n, err
}

func (s *PermissionStore) GetBinding(ctx context.Context, userID string) (permission.Binding, error) {
	b := permission.Binding{UserID: userID}
	err := s.db.queryRow(ctx,
		`select role_id from admin_bindings where user_id = ?`, userID).Scan(&b.RoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Binding{}, permission.ErrNotFound
	}
	if err != nil {
		return permission.Binding{}, err
	}

	rows, err := s.db.query(ctx,
		`select p.code, o.effect from admin_overrides o
		 join permissions p on p.id = o.permission_id
		 where o.user_id = ? order by p.code`, userID)
	if err != nil {
		return permission.Binding{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var code, effect string
		if err := rows.Scan(&code, &effect); err != nil {
			return permission.Binding{}, err
		}
		switch effect {
		case effectAdd:
			b.Override.Add = append(b.Override.Add, code)
		case effectRemove:
			b.Override.Remove = append(b.Override.Remove, code)
		}
	}
	return b, rows.Err()
}

func (s *PermissionStore) SetBindingRole(ctx context.Context, userID, roleID string) error {
	return s.db.tx(ctx, func(tx *txn) error {
		if err := roleExists(ctx, tx, roleID); err != nil {
			return err
		}
		_, err := tx.exec(ctx,
			`insert into admin_bindings (user_id, role_id) values (?, ?)
			 on conflict (user_id) do update set role_id = excluded.role_id`,
			userID, roleID)
		return err
	})
}

func (s *PermissionStore) SetOverride(ctx context.Context, userID string, ov permission.Override) error {
	return s.db.tx(ctx, func(tx *txn) error {
		var roleID string
		err := tx.queryRow(ctx,
			`select role_id from admin_bindings where user_id = ?`, userID).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return permission.ErrNotFound
		}
		if err != nil {
			return err
		}

		add, err := resolveCodes(ctx, tx, dedupe(ov.Add))
		if err != nil {
			return err
		}
		remove, err := resolveCodes(ctx, tx, dedupe(ov.Remove))
		if err != nil {
			return err
		}

		if _, err := tx.exec(ctx, `delete from admin_overrides where user_id = ?`, userID); err != nil {
			return err
		}
		for _, id := range add {
			if _, err := tx.exec(ctx,
				`insert into admin_overrides (user_id, permission_id, effect) values (?, ?, ?)`,
				userID, id, effectAdd); err != nil {
				return err
			}
		}
		for _, id := range remove {
			if _, err := tx.exec(ctx,
				`insert into admin_overrides (user_id, permission_id, effect) values (?, ?, ?)`,
				userID, id, effectRemove); err != nil {
				return err
			}
		}
		return nil
	})
}

func roleExists(ctx context.Context, tx *txn, id string) error {
	var found string
	err := tx.queryRow(ctx, `select id from roles where id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.ErrNotFound
	}
	return err
}

// resolveCodes maps codes to permission ids, failing on the first unknown one.
func resolveCodes(ctx context.Context, tx *txn, codes []string) ([]string, error) {
	out := make([]string, 0, len(codes))
	for _, code := range codes {
		var id string
		err := tx.queryRow(ctx, `select id from permissions where code = ?`, code).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", permission.ErrUnknownPermission, code)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func grantLocked(ctx context.Context, tx *txn, roleID string, codes []string) error {
	permIDs, err := resolveCodes(ctx, tx, codes)
	if err != nil {
		return err
	}
	for _, pid := range permIDs {
		if _, err := tx.exec(ctx,
			`insert into role_permissions (role_id, permission_id) values (?, ?)`, roleID, pid); err != nil {
			return err
		}
	}
	return nil
}

func scanPermission(row scanner) (permission.Permission, error) {
	var (
		p       permission.Permission
		created int64
	)
	if err := row.Scan(&p.ID, &p.Code, &p.Resource, &p.Action, &p.Description, &created); err != nil {
		return permission.Permission{}, err
	}
	p.CreatedAt = fromMillis(created)
	return p, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return permission.ErrNotFound
	}
	return nil
}

func dedupe(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
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
