package engine

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/drclabs/recall/store"
)

// RecentMemory is one entry of the recency listing.
type RecentMemory struct {
	Text      string `json:"text"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	DocID     string `json:"doc_id,omitempty"`
	CreatedTs int64  `json:"created_ts"`
}

// Documents lists the tenant's documents with chunk counts and previews,
// newest first. Read-through: no caching layer.
func (e *Engine) Documents(ctx context.Context, tenant store.TenantScope) ([]*store.DocumentSummary, error) {
	summaries, err := e.store.ListDocumentSummaries(ctx, tenant)
	if err != nil {
		return nil, errors.Wrapf(ErrGraphStoreUnavailable, "list documents: %v", err)
	}
	return summaries, nil
}

// Recent lists the tenant's most recently created memories.
func (e *Engine) Recent(ctx context.Context, tenant store.TenantScope, limit int) ([]RecentMemory, error) {
	if limit <= 0 {
		limit = 10
	}
	memories, err := e.store.ListMemories(ctx, &store.FindMemory{
		Tenant:        &tenant,
		OrderByRecent: true,
		Limit:         limit,
	})
	if err != nil {
		return nil, errors.Wrapf(ErrGraphStoreUnavailable, "list recent memories: %v", err)
	}

	list := make([]RecentMemory, 0, len(memories))
	for _, m := range memories {
		list = append(list, RecentMemory{
			Text:      m.Text,
			Title:     memoryTitle(m.Text),
			Source:    m.Source,
			DocID:     m.DocID,
			CreatedTs: m.CreatedTs,
		})
	}
	return list, nil
}

// TotalCount counts the tenant's memories.
func (e *Engine) TotalCount(ctx context.Context, tenant store.TenantScope) (int64, error) {
	count, err := e.store.CountMemories(ctx, &store.FindMemory{Tenant: &tenant})
	if err != nil {
		return 0, errors.Wrapf(ErrGraphStoreUnavailable, "count memories: %v", err)
	}
	return count, nil
}

// Stats aggregates the tenant's memories: counts, priority spread, sources
// and timestamp range.
func (e *Engine) Stats(ctx context.Context, tenant store.TenantScope) (*store.MemoryStats, error) {
	stats, err := e.store.GetMemoryStats(ctx, tenant)
	if err != nil {
		return nil, errors.Wrapf(ErrGraphStoreUnavailable, "memory stats: %v", err)
	}
	return stats, nil
}

// memoryTitle is the first five words of the text, ellipsized.
func memoryTitle(text string) string {
	words := strings.Fields(text)
	if len(words) <= 5 {
		return text
	}
	return strings.Join(words[:5], " ") + "..."
}
