package store

import (
	"context"
	"database/sql"
)

// Driver is the database access layer backing the graph store. Postgres is
// the production driver; SQLite is supported on a best-effort basis for
// development and testing.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// IngestDocument writes one document and its chunk memories in a single
	// transaction: the document row is upserted (created on first ingest,
	// left untouched afterwards), each memory is inserted, and a NEXT link
	// is recorded between every pair of consecutive chunks. The returned
	// memories carry their assigned IDs.
	IngestDocument(ctx context.Context, doc *Document, memories []*Memory) ([]*Memory, error)

	// CreateMemory inserts a single standalone memory (a conversation turn).
	CreateMemory(ctx context.Context, create *Memory) (*Memory, error)

	ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error)
	CountMemories(ctx context.Context, find *FindMemory) (int64, error)

	// CountMemoryLinks counts the NEXT links between a document's chunks.
	CountMemoryLinks(ctx context.Context, tenant TenantScope, docID string) (int64, error)

	ListDocumentSummaries(ctx context.Context, tenant TenantScope) ([]*DocumentSummary, error)

	// DeleteByTenant removes a tenant's documents, memories and links.
	DeleteByTenant(ctx context.Context, tenant TenantScope) error

	// DeleteMemoriesByPattern removes a tenant's memories whose text contains
	// pattern (case-insensitive). Returns the number of rows removed.
	DeleteMemoriesByPattern(ctx context.Context, tenant TenantScope, pattern string) (int64, error)

	// DecayPriorities multiplies the priority of memories created before
	// cutoffTs by factor. Returns the number of rows touched.
	DecayPriorities(ctx context.Context, cutoffTs int64, factor float64) (int64, error)

	GetMemoryStats(ctx context.Context, tenant TenantScope) (*MemoryStats, error)
}
