package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/drclabs/recall/store"
)

// ListDocumentSummaries rolls up a tenant's documents with their memory
// counts, newest first. Preview is the first chunk's text.
func (d *DB) ListDocumentSummaries(ctx context.Context, tenant store.TenantScope) ([]*store.DocumentSummary, error) {
	args, next := []any{}, 1
	clause := tenantClause(tenant, &next, &args)

	rows, err := d.db.QueryContext(ctx, `
		SELECT d.id, d.source, d.created_ts,
			(SELECT COUNT(*) FROM memory m WHERE m.doc_id = d.id AND m.user_id = d.user_id AND m.project_id = d.project_id),
			COALESCE((SELECT m.text FROM memory m WHERE m.doc_id = d.id AND m.user_id = d.user_id AND m.project_id = d.project_id ORDER BY m.chunk_index ASC LIMIT 1), '')
		FROM document d
		WHERE `+clause+`
		ORDER BY d.created_ts DESC
	`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list document summaries")
	}
	defer rows.Close()

	list := []*store.DocumentSummary{}
	for rows.Next() {
		var s store.DocumentSummary
		if err := rows.Scan(&s.DocID, &s.Source, &s.CreatedTs, &s.MemoryCount, &s.Preview); err != nil {
			return nil, errors.Wrap(err, "failed to scan document summary")
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}
