package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/ids"
)

var _ authcore.UserProvider = (*UserStore)(nil)

// UserStore is an [authcore.UserProvider] over the users table. Emails are
// stored exactly as the engine passes them, already normalized.
type UserStore struct {
	db *DB
}

const userColumns = `id, email, password_hash, is_active, is_verified, kind, created_at`

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (authcore.UserRecord, error) {
	return s.get(ctx, `where email = ?`, email)
}

func (s *UserStore) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, error) {
	return s.get(ctx, `where id = ?`, userID)
}

func (s *UserStore) get(ctx context.Context, where, arg string) (authcore.UserRecord, error) {
	var (
		u       authcore.UserRecord
		kind    string
		created int64
	)
	err := s.db.queryRow(ctx, `select `+userColumns+` from users `+where, arg).
		Scan(&u.UserID, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsVerified, &kind, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	u.Kind = authcore.RoleKind(kind)
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (s *UserStore) CreateUser(ctx context.Context, in authcore.CreateUserInput) (authcore.UserRecord, error) {
	u := authcore.UserRecord{
		UserID:       ids.New(),
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		IsActive:     true,
		IsVerified:   in.IsVerified,
		Kind:         in.Kind,
		CreatedAt:    s.db.now().UTC(),
	}
	_, err := s.db.exec(ctx,
		`insert into users (`+userColumns+`) values (?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.Email, u.PasswordHash, u.IsActive, u.IsVerified, string(u.Kind), millis(u.CreatedAt),
	)
	if err != nil {
		if s.db.dialect.isUnique(err) {
			return authcore.UserRecord{}, fmt.Errorf("%w: %s", authcore.ErrAccountExists, in.Email)
		}
		return authcore.UserRecord{}, fmt.Errorf("create user: %w", err)
	}
	u.CreatedAt = fromMillis(millis(u.CreatedAt))
	return u, nil
}

func (s *UserStore) UpdatePasswordHash(ctx context.Context, userID, hash string) error {
	return s.update(ctx, `update users set password_hash = ? where id = ?`, hash, userID)
}

func (s *UserStore) MarkVerified(ctx context.Context, userID string) error {
	return s.update(ctx, `update users set is_verified = ? where id = ?`, true, userID)
}

// SetActive flips the account's active flag. Users are never deleted.
func (s *UserStore) SetActive(ctx context.Context, userID string, active bool) error {
	return s.update(ctx, `update users set is_active = ? where id = ?`, active, userID)
}

func (s *UserStore) update(ctx context.Context, q string, args ...any) error {
	res, err := s.db.exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}
