package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/drclabs/recall/store"
)

const memoryFields = "id, text, source, doc_id, chunk_index, priority, negation, user_id, project_id, conversation_id, created_ts"

// IngestDocument writes the document row and its chunk memories in one
// transaction. The document is created on first ingest and left untouched on
// conflict; NEXT links connect consecutive chunks in emission order.
func (d *DB) IngestDocument(ctx context.Context, doc *store.Document, memories []*store.Memory) ([]*store.Memory, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO document (id, source, user_id, project_id, conversation_id, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id, user_id, project_id) DO NOTHING
	`, doc.ID, doc.Source, doc.Tenant.UserID, doc.Tenant.ProjectID, doc.Tenant.ConversationID, doc.CreatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert document")
	}

	var prevID int64
	for i, m := range memories {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO memory (text, source, doc_id, chunk_index, priority, negation, user_id, project_id, conversation_id, created_ts)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id
		`, m.Text, m.Source, m.DocID, m.ChunkIndex, m.Priority, boolToInt(m.Negation),
			m.Tenant.UserID, m.Tenant.ProjectID, m.Tenant.ConversationID, m.CreatedTs,
		).Scan(&m.ID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to insert memory")
		}

		if i > 0 {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO memory_link (from_id, to_id) VALUES ($1, $2)", prevID, m.ID,
			); err != nil {
				return nil, errors.Wrap(err, "failed to insert memory link")
			}
		}
		prevID = m.ID
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit ingest tx")
	}
	return memories, nil
}

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	err := d.db.QueryRowContext(ctx, `
		INSERT INTO memory (text, source, doc_id, chunk_index, priority, negation, user_id, project_id, conversation_id, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, create.Text, create.Source, create.DocID, create.ChunkIndex, create.Priority, boolToInt(create.Negation),
		create.Tenant.UserID, create.Tenant.ProjectID, create.Tenant.ConversationID, create.CreatedTs,
	).Scan(&create.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args, next := []string{"1 = 1"}, []any{}, 1

	if find.Tenant != nil {
		where = append(where, tenantClause(*find.Tenant, &next, &args))
	}
	if find.DocID != nil {
		where, args = append(where, fmt.Sprintf("doc_id = $%d", next)), append(args, *find.DocID)
		next++
	}
	if find.ContainsText != nil {
		where, args = append(where, fmt.Sprintf("text ILIKE '%%' || $%d || '%%'", next)), append(args, *find.ContainsText)
		next++
	}

	query := "SELECT " + memoryFields + " FROM memory WHERE " + strings.Join(where, " AND ")
	if find.OrderByRecent {
		query += " ORDER BY created_ts DESC"
	} else {
		query += " ORDER BY id ASC"
	}
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", next)
		args = append(args, find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	return scanMemories(rows)
}

func (d *DB) CountMemories(ctx context.Context, find *store.FindMemory) (int64, error) {
	where, args, next := []string{"1 = 1"}, []any{}, 1
	if find.Tenant != nil {
		where = append(where, tenantClause(*find.Tenant, &next, &args))
	}
	if find.DocID != nil {
		where, args = append(where, fmt.Sprintf("doc_id = $%d", next)), append(args, *find.DocID)
		next++
	}

	var count int64
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory WHERE "+strings.Join(where, " AND "), args...,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count memories")
	}
	return count, nil
}

func (d *DB) CountMemoryLinks(ctx context.Context, tenant store.TenantScope, docID string) (int64, error) {
	args, next := []any{}, 1
	clause := tenantClause(tenant, &next, &args)
	args = append(args, docID)

	var count int64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM memory_link l
		JOIN memory m ON m.id = l.from_id
		WHERE %s AND m.doc_id = $%d
	`, clause, next), args...).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count memory links")
	}
	return count, nil
}

func (d *DB) DeleteByTenant(ctx context.Context, tenant store.TenantScope) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	args, next := []any{}, 1
	clause := tenantClause(tenant, &next, &args)

	// Detach links first, then the nodes themselves.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM memory_link WHERE from_id IN (SELECT id FROM memory WHERE `+clause+`)
		OR to_id IN (SELECT id FROM memory WHERE `+clause+`)
	`, args...); err != nil {
		return errors.Wrap(err, "failed to delete memory links")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory WHERE "+clause, args...); err != nil {
		return errors.Wrap(err, "failed to delete memories")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM document WHERE "+clause, args...); err != nil {
		return errors.Wrap(err, "failed to delete documents")
	}

	return errors.Wrap(tx.Commit(), "failed to commit tenant delete")
}

func (d *DB) DeleteMemoriesByPattern(ctx context.Context, tenant store.TenantScope, pattern string) (int64, error) {
	args, next := []any{}, 1
	clause := tenantClause(tenant, &next, &args)
	args = append(args, pattern)

	res, err := d.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM memory WHERE %s AND text ILIKE '%%' || $%d || '%%'", clause, next), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memories by pattern")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

func (d *DB) DecayPriorities(ctx context.Context, cutoffTs int64, factor float64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"UPDATE memory SET priority = priority * $1 WHERE created_ts < $2", factor, cutoffTs)
	if err != nil {
		return 0, errors.Wrap(err, "failed to decay priorities")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}

func (d *DB) GetMemoryStats(ctx context.Context, tenant store.TenantScope) (*store.MemoryStats, error) {
	args, next := []any{}, 1
	clause := tenantClause(tenant, &next, &args)

	stats := &store.MemoryStats{}
	var minP, avgP, maxP sql.NullFloat64
	var newest, oldest sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(priority), AVG(priority), MAX(priority), MAX(created_ts), MIN(created_ts)
		FROM memory WHERE `+clause, args...,
	).Scan(&stats.TotalCount, &minP, &avgP, &maxP, &newest, &oldest)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read memory stats")
	}
	stats.MinPriority, stats.AvgPriority, stats.MaxPriority = minP.Float64, avgP.Float64, maxP.Float64
	stats.NewestTs, stats.OldestTs = newest.Int64, oldest.Int64

	args, next = []any{}, 1
	clause = tenantClause(tenant, &next, &args)
	rows, err := d.db.QueryContext(ctx,
		"SELECT DISTINCT source FROM memory WHERE "+clause+" ORDER BY source", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory sources")
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, errors.Wrap(err, "failed to scan source")
		}
		stats.Sources = append(stats.Sources, source)
	}
	return stats, rows.Err()
}

func scanMemories(rows *sql.Rows) ([]*store.Memory, error) {
	list := []*store.Memory{}
	for rows.Next() {
		var m store.Memory
		var negation int
		err := rows.Scan(
			&m.ID,
			&m.Text,
			&m.Source,
			&m.DocID,
			&m.ChunkIndex,
			&m.Priority,
			&negation,
			&m.Tenant.UserID,
			&m.Tenant.ProjectID,
			&m.Tenant.ConversationID,
			&m.CreatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan memory")
		}
		m.Negation = negation != 0
		list = append(list, &m)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
