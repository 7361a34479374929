// Package sqlstore persists refresh tokens, the role/permission catalog and
// user accounts in a relational database through database/sql.
//
// Two dialects are supported: Postgres through the pgx stdlib driver and
// SQLite through go-sqlite3. Queries are written once with ? placeholders and
// rebound for Postgres. [DB.Migrate] creates the schema; it is idempotent.
//
//	db, err := sqlstore.OpenPostgres(dsn)
//	...
//	engine, err := authcore.New().
//		WithLedgerStore(db.Tokens()).
//		WithPermissionStore(db.Permissions()).
//		WithUserProvider(db.Users()).
//		Build()
//
// Timestamps are stored as Unix milliseconds so range deletes compare
// integers in both dialects.
package sqlstore
