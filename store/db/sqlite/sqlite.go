package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/drclabs/recall/internal/profile"
	"github.com/drclabs/recall/store"
)

// SQLite is supported on a best-effort basis for development and testing.
// Concurrent writes are serialized through a single connection; production
// deployments should use the postgres driver.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the SQLite database at the DSN given in the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode avoids most locking issues; busy_timeout covers the
	// rest. Each pragma must be prefixed with `_pragma=` for modernc.org/sqlite.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	// A single connection is optimal for SQLite with WAL.
	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Migrate creates the schema. Idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS document (
			id TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL,
			PRIMARY KEY (id, user_id, project_id)
		)`,
		`CREATE TABLE IF NOT EXISTS memory (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			doc_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			priority REAL NOT NULL DEFAULT 1.0,
			negation INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_link (
			from_id INTEGER NOT NULL,
			to_id INTEGER NOT NULL,
			PRIMARY KEY (from_id, to_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_tenant ON memory (user_id, project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_doc ON memory (doc_id)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "failed to migrate schema")
		}
	}
	return nil
}
