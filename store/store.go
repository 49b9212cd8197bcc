// Package store is the authoritative record of memory existence. It models a
// small relationship graph over SQL: Document rows own Memory rows (the
// CONTAINS relationship is the memory's doc_id), and NEXT links order
// consecutive chunks of the same document. The vector index is a derived,
// rebuildable projection of this store.
package store

import (
	"context"

	"github.com/drclabs/recall/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) IngestDocument(ctx context.Context, doc *Document, memories []*Memory) ([]*Memory, error) {
	return s.driver.IngestDocument(ctx, doc, memories)
}

func (s *Store) CreateMemory(ctx context.Context, create *Memory) (*Memory, error) {
	return s.driver.CreateMemory(ctx, create)
}

func (s *Store) ListMemories(ctx context.Context, find *FindMemory) ([]*Memory, error) {
	return s.driver.ListMemories(ctx, find)
}

func (s *Store) CountMemories(ctx context.Context, find *FindMemory) (int64, error) {
	return s.driver.CountMemories(ctx, find)
}

func (s *Store) CountMemoryLinks(ctx context.Context, tenant TenantScope, docID string) (int64, error) {
	return s.driver.CountMemoryLinks(ctx, tenant, docID)
}

func (s *Store) ListDocumentSummaries(ctx context.Context, tenant TenantScope) ([]*DocumentSummary, error) {
	return s.driver.ListDocumentSummaries(ctx, tenant)
}

func (s *Store) DeleteByTenant(ctx context.Context, tenant TenantScope) error {
	return s.driver.DeleteByTenant(ctx, tenant)
}

func (s *Store) DeleteMemoriesByPattern(ctx context.Context, tenant TenantScope, pattern string) (int64, error) {
	return s.driver.DeleteMemoriesByPattern(ctx, tenant, pattern)
}

func (s *Store) DecayPriorities(ctx context.Context, cutoffTs int64, factor float64) (int64, error) {
	return s.driver.DecayPriorities(ctx, cutoffTs, factor)
}

func (s *Store) GetMemoryStats(ctx context.Context, tenant TenantScope) (*MemoryStats, error) {
	return s.driver.GetMemoryStats(ctx, tenant)
}
