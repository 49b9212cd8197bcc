package vectorindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
)

// PG is a postgres-backed index using the pgvector extension. Unlike Flat it
// supports true tenant-scoped deletion, so clearing a tenant never touches
// other tenants' vectors. It shares the graph store's *sql.DB.
type PG struct {
	db  *sql.DB
	dim int
}

// NewPG prepares the pgvector-backed index with the given fixed dimension,
// creating the extension and table when missing.
func NewPG(ctx context.Context, db *sql.DB, dimensions int) (*PG, error) {
	if dimensions <= 0 {
		return nil, errors.Errorf("invalid dimensions: %d", dimensions)
	}
	p := &PG{db: db, dim: dimensions}

	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, errors.Wrap(err, "failed to create vector extension")
	}
	stmt := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS memory_vector (
			id BIGSERIAL PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			doc_id TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL DEFAULT 0,
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL DEFAULT ''
		)`, dimensions)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to create memory_vector table")
	}
	if _, err := db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_memory_vector_tenant ON memory_vector (user_id, project_id)",
	); err != nil {
		return nil, errors.Wrap(err, "failed to create tenant index")
	}
	return p, nil
}

func (p *PG) Add(ctx context.Context, vectors [][]float32, payloads []Payload) error {
	if len(vectors) != len(payloads) {
		return errors.Errorf("vector/payload count mismatch: %d != %d", len(vectors), len(payloads))
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	for i, v := range vectors {
		if len(v) != p.dim {
			return errors.Wrapf(ErrDimensionMismatch, "got %d, index has %d", len(v), p.dim)
		}
		pl := payloads[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memory_vector (embedding, text, source, doc_id, chunk_index, user_id, project_id, conversation_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, pgvector.NewVector(v), pl.Text, pl.Source, pl.DocID, pl.ChunkIndex, pl.UserID, pl.ProjectID, pl.ConversationID); err != nil {
			return errors.Wrap(err, "failed to insert vector")
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit vector insert")
}

func (p *PG) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	if len(vector) != p.dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "query has %d, index has %d", len(vector), p.dim)
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT text, source, doc_id, chunk_index, user_id, project_id, conversation_id,
			embedding <-> $1 AS distance
		FROM memory_vector
		ORDER BY distance ASC
		LIMIT $2
	`, pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search vectors")
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(
			&h.Payload.Text,
			&h.Payload.Source,
			&h.Payload.DocID,
			&h.Payload.ChunkIndex,
			&h.Payload.UserID,
			&h.Payload.ProjectID,
			&h.Payload.ConversationID,
			&h.Score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan vector hit")
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *PG) DeleteTenant(ctx context.Context, userID, projectID, conversationID string) error {
	query := "DELETE FROM memory_vector WHERE user_id = $1 AND project_id = $2"
	args := []any{userID, projectID}
	if conversationID != "" {
		query += " AND conversation_id = $3"
		args = append(args, conversationID)
	}
	_, err := p.db.ExecContext(ctx, query, args...)
	return errors.Wrap(err, "failed to delete tenant vectors")
}

func (p *PG) Reset(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		dimensions = p.dim
	}
	if _, err := p.db.ExecContext(ctx, "DROP TABLE IF EXISTS memory_vector"); err != nil {
		return errors.Wrap(err, "failed to drop memory_vector table")
	}
	fresh, err := NewPG(ctx, p.db, dimensions)
	if err != nil {
		return err
	}
	p.dim = fresh.dim
	return nil
}

func (p *PG) Len(ctx context.Context) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_vector").Scan(&count)
	return count, errors.Wrap(err, "failed to count vectors")
}

func (p *PG) Dimensions() int {
	return p.dim
}

// Close is a no-op: the *sql.DB is owned by the graph store driver.
func (p *PG) Close() error {
	return nil
}
