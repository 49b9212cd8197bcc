package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pkg/errors"

	// Import the Postgres driver.
	_ "github.com/lib/pq"

	"github.com/drclabs/recall/internal/profile"
	"github.com/drclabs/recall/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the postgres database at the DSN given in the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	pgDB, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	pgDB.SetMaxOpenConns(25)
	pgDB.SetMaxIdleConns(5)

	driver := DB{db: pgDB, profile: profile}

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
			id BIGSERIAL PRIMARY KEY,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			doc_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			priority DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			negation INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT '',
			created_ts BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memory_link (
			from_id BIGINT NOT NULL,
			to_id BIGINT NOT NULL,
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

// tenantClause builds a positional tenant filter starting at placeholder
// *next, appending the bound values to args.
func tenantClause(tenant store.TenantScope, next *int, args *[]any) string {
	clause := fmt.Sprintf("user_id = $%d AND project_id = $%d", *next, *next+1)
	*args = append(*args, tenant.UserID, tenant.ProjectID)
	*next += 2
	if tenant.ConversationID != "" {
		clause += fmt.Sprintf(" AND conversation_id = $%d", *next)
		*args = append(*args, tenant.ConversationID)
		*next++
	}
	return clause
}
