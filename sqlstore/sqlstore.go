package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
)

// Dialect selects placeholder syntax and constraint error decoding.
type Dialect int

const (
	Postgres Dialect = iota + 1
	SQLite
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

var errNoDB = errors.New("sqlstore: database connection unavailable")

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// rebind turns ? placeholders into $n for Postgres.
func (d Dialect) rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (d Dialect) isUnique(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func (d Dialect) isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrForeignKeyViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

// DB bundles a connection pool with its dialect. The stores it hands out
// share the pool.
type DB struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New wraps an already opened pool.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect, now: time.Now}
}

// OpenPostgres opens a pgx-backed pool with tuned defaults.
func OpenPostgres(dsn string) (*DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, Postgres), nil
}

// OpenSQLite opens path in WAL mode with foreign keys enforced. Write
// transactions take the lock up front so concurrent rotations serialize
// instead of failing with SQLITE_BUSY.
func OpenSQLite(path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	return New(db, SQLite), nil
}

// WithClock overrides the time source used for created_at columns.
func (s *DB) WithClock(now func() time.Time) *DB {
	if now != nil {
		s.now = now
	}
	return s
}

// Close closes the pool.
func (s *DB) Close() error { return s.db.Close() }

// SQL returns the underlying pool.
func (s *DB) SQL() *sql.DB { return s.db }

// Dialect reports the configured dialect.
func (s *DB) Dialect() Dialect { return s.dialect }

// Ping checks connectivity.
func (s *DB) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

// Tokens returns the refresh-token store.
func (s *DB) Tokens() *TokenStore { return &TokenStore{db: s} }

// Permissions returns the role/permission store.
func (s *DB) Permissions() *PermissionStore { return &PermissionStore{db: s} }

// Users returns the account store.
func (s *DB) Users() *UserStore { return &UserStore{db: s} }

var schema = []string{
	`create table if not exists users (
		id text primary key,
		email text not null unique,
		password_hash text not null default '',
		is_active boolean not null default true,
		is_verified boolean not null default false,
		kind text not null,
		created_at bigint not null
	)`,
	`create table if not exists refresh_tokens (
		id text primary key,
		user_id text not null,
		token_hash text not null unique,
		family_id text not null,
		parent_id text not null default '',
		expires_at bigint not null,
		revoked boolean not null default false,
		created_at bigint not null
	)`,
	`create index if not exists idx_refresh_tokens_family on refresh_tokens(family_id)`,
	`create index if not exists idx_refresh_tokens_user on refresh_tokens(user_id)`,
	`create index if not exists idx_refresh_tokens_expires on refresh_tokens(expires_at)`,
	`create table if not exists roles (
		id text primary key,
		name text not null unique,
		description text not null default '',
		is_system boolean not null default false,
		created_at bigint not null
	)`,
	`create table if not exists permissions (
		id text primary key,
		code text not null unique,
		resource text not null,
		action text not null,
		description text not null default '',
		created_at bigint not null
	)`,
	`create table if not exists role_permissions (
		role_id text not null references roles(id) on delete cascade,
		permission_id text not null references permissions(id),
		primary key (role_id, permission_id)
	)`,
	`create table if not exists admin_bindings (
		user_id text primary key,
		role_id text not null references roles(id)
	)`,
	`create table if not exists admin_overrides (
		user_id text not null references admin_bindings(user_id) on delete cascade,
		permission_id text not null references permissions(id),
		effect text not null,
		primary key (user_id, permission_id, effect)
	)`,
}

// Migrate creates every table and index that does not exist yet.
func (s *DB) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *DB) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

func (s *DB) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func (s *DB) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(q), args...)
}

// tx runs fn inside a transaction, committing when fn returns nil.
func (s *DB) tx(ctx context.Context, fn func(*txn) error) error {
	if s == nil || s.db == nil {
		return errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txn{tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	return tx.Commit()
}

type txn struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *txn) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(q), args...)
}

func (t *txn) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(q), args...)
}

func (t *txn) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(q), args...)
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
