package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	authcore "github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/ledger"
	"github.com/MrEthical07/authcore/permission"
	"github.com/jackc/pgx/v5/pgconn"
)

func mockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Postgres), mock
}

func TestRebindPostgres(t *testing.T) {
	got := Postgres.rebind(`update t set a = ? where b = ? and c = ?`)
	if got != `update t set a = $1 where b = $2 and c = $3` {
		t.Fatalf("rebind = %q", got)
	}
	if SQLite.rebind(`a = ?`) != `a = ?` {
		t.Fatal("sqlite query rewritten")
	}
}

func TestPostgresSupersedeLostRace(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`update refresh_tokens set revoked = $1 where id = $2 and revoked = $3`)).
		WithArgs(true, "parent", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	applied, err := db.Tokens().Supersede(context.Background(), "parent", ledger.Token{ID: "child"})
	if err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if applied {
		t.Fatal("expected rotation not applied")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSupersedeApplied(t *testing.T) {
	db, mock := mockDB(t)
	exp := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set revoked").
		WithArgs(true, "parent", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("child", "user-1", "hash", "fam", "parent", exp.UnixMilli(), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	child := ledger.Token{ID: "child", UserID: "user-1", TokenHash: "hash", FamilyID: "fam", ParentID: "parent", ExpiresAt: exp, CreatedAt: time.Now()}
	applied, err := db.Tokens().Supersede(context.Background(), "parent", child)
	if err != nil || !applied {
		t.Fatalf("supersede = %v, %v", applied, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUniqueViolationMapping(t *testing.T) {
	db, mock := mockDB(t)

	mock.ExpectExec("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	_, err := db.Users().CreateUser(context.Background(), authcore.CreateUserInput{Email: "ann@example.com", Kind: authcore.KindAdmin})
	if !errors.Is(err, authcore.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}

	mock.ExpectExec("insert into permissions").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	err = db.Permissions().CreatePermission(context.Background(), permission.Permission{Code: "users:read"})
	if !errors.Is(err, permission.ErrPermissionExists) {
		t.Fatalf("expected ErrPermissionExists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetBindingNotFound(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select role_id from admin_bindings where user_id = $1`)).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"role_id"}))

	if _, err := db.Permissions().GetBinding(context.Background(), "nobody"); !errors.Is(err, permission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
