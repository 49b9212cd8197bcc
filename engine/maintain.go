package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/vectorindex"
)

const (
	// rebuildBatchSize is how many memories are re-embedded per provider call
	// during a rebuild.
	rebuildBatchSize = 64

	// rebuildWorkers bounds concurrent embedding calls during a rebuild.
	rebuildWorkers = 4
)

// ClearTenant hard-deletes everything the tenant owns: graph rows first (the
// authoritative record), then the tenant's vector entries. The index handles
// tenant deletion natively (postgres) or by tombstoning with deferred
// compaction (flat snapshot), so other tenants' data is never re-embedded.
// A conversation-bound scope clears only that conversation in both stores.
func (e *Engine) ClearTenant(ctx context.Context, tenant store.TenantScope) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	if err := e.store.DeleteByTenant(ctx, tenant); err != nil {
		return errors.Wrapf(ErrGraphStoreUnavailable, "clear tenant: %v", err)
	}
	if err := e.index.DeleteTenant(ctx, tenant.UserID, tenant.ProjectID, tenant.ConversationID); err != nil {
		// The graph delete already committed: surviving vector entries are
		// tenant-filtered out of every search, so this drift is not a leak,
		// but Reconcile should be run to shrink the index.
		e.logger.Error("vector delete failed after graph delete",
			"user_id", tenant.UserID, "project_id", tenant.ProjectID, "error", err)
		return errors.Wrapf(ErrVectorIndexUnavailable, "clear tenant vectors: %v", err)
	}

	if e.metrics != nil {
		e.metrics.CountTenantClear()
	}
	e.logger.Info("tenant cleared", "user_id", tenant.UserID, "project_id", tenant.ProjectID)
	return nil
}

// Rebuild discards the vector index and reconstructs it from every surviving
// memory in the graph store, re-embedding all of them. This is an
// O(total memories) operation across every tenant; it exists for startup
// drift repair and explicit admin use, not for routine deletion.
func (e *Engine) Rebuild(ctx context.Context) error {
	start := time.Now()

	memories, err := e.store.ListMemories(ctx, &store.FindMemory{})
	if err != nil {
		return errors.Wrapf(ErrGraphStoreUnavailable, "list memories for rebuild: %v", err)
	}

	if err := e.index.Reset(ctx, e.embedder.Dimensions()); err != nil {
		return errors.Wrapf(ErrVectorIndexUnavailable, "reset index: %v", err)
	}
	if len(memories) == 0 {
		e.logger.Info("index rebuilt empty")
		return nil
	}

	// Re-embed in batches with bounded concurrency, then add sequentially to
	// keep the snapshot writes serialized.
	type batch struct {
		vectors  [][]float32
		payloads []vectorindex.Payload
	}
	batches := make([]batch, 0, (len(memories)+rebuildBatchSize-1)/rebuildBatchSize)
	for i := 0; i < len(memories); i += rebuildBatchSize {
		end := i + rebuildBatchSize
		if end > len(memories) {
			end = len(memories)
		}
		batches = append(batches, batch{payloads: payloadsOf(memories[i:end])})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rebuildWorkers)
	for bi := range batches {
		b := &batches[bi]
		g.Go(func() error {
			texts := make([]string, len(b.payloads))
			for i, p := range b.payloads {
				texts[i] = p.Text
			}
			vectors, err := e.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return errors.Wrapf(ErrEmbeddingService, "re-embed batch: %v", err)
			}
			b.vectors = vectors
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, b := range batches {
		if err := e.index.Add(ctx, b.vectors, b.payloads); err != nil {
			return errors.Wrapf(ErrVectorIndexUnavailable, "rebuild add: %v", err)
		}
	}

	if e.metrics != nil {
		e.metrics.ObserveRebuild(time.Since(start))
	}
	e.logger.Info("index rebuilt", "memories", len(memories), "took", time.Since(start))
	return nil
}

// Reconcile validates the index against the graph store at startup and
// rebuilds when they disagree: a missing or dimension-mismatched index, or
// an index holding fewer entries than the graph (writes that never got
// projected). A larger index is tolerated — stale entries are tenant-filtered
// at read time and disappear on the next rebuild.
func (e *Engine) Reconcile(ctx context.Context) error {
	graphCount, err := e.store.CountMemories(ctx, &store.FindMemory{})
	if err != nil {
		return errors.Wrapf(ErrGraphStoreUnavailable, "count memories: %v", err)
	}

	indexLen, err := e.index.Len(ctx)
	if err != nil {
		return errors.Wrapf(ErrVectorIndexUnavailable, "index length: %v", err)
	}

	dims := e.index.Dimensions()
	if dims != 0 && dims != e.embedder.Dimensions() {
		e.logger.Warn("index dimension mismatch, rebuilding",
			"index", dims, "embedder", e.embedder.Dimensions())
		return e.Rebuild(ctx)
	}
	if int64(indexLen) < graphCount {
		e.logger.Warn("index behind graph store, rebuilding",
			"index", indexLen, "graph", graphCount)
		return e.Rebuild(ctx)
	}
	return nil
}

// Decay multiplies the priority of memories older than olderThan by factor.
// Memories are kept, only downweighted.
func (e *Engine) Decay(ctx context.Context, olderThan time.Duration, factor float64) (int64, error) {
	if factor <= 0 || factor >= 1 {
		return 0, errors.Errorf("decay factor must be in (0, 1), got %v", factor)
	}
	cutoff := time.Now().Add(-olderThan).Unix()
	n, err := e.store.DecayPriorities(ctx, cutoff, factor)
	if err != nil {
		return 0, errors.Wrapf(ErrGraphStoreUnavailable, "decay priorities: %v", err)
	}
	e.logger.Info("memory priorities decayed", "updated", n, "older_than", olderThan)
	return n, nil
}

// PurgePattern deletes the tenant's memories whose text contains pattern,
// then rebuilds the index so the purged texts cannot resurface.
func (e *Engine) PurgePattern(ctx context.Context, tenant store.TenantScope, pattern string) (int64, error) {
	if pattern == "" {
		return 0, errors.New("empty purge pattern")
	}
	n, err := e.store.DeleteMemoriesByPattern(ctx, tenant, pattern)
	if err != nil {
		return 0, errors.Wrapf(ErrGraphStoreUnavailable, "purge pattern: %v", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := e.Rebuild(ctx); err != nil {
		return n, err
	}
	e.logger.Info("memories purged", "pattern", pattern, "deleted", n,
		"user_id", tenant.UserID, "project_id", tenant.ProjectID)
	return n, nil
}

func payloadsOf(memories []*store.Memory) []vectorindex.Payload {
	payloads := make([]vectorindex.Payload, len(memories))
	for i, m := range memories {
		payloads[i] = vectorindex.Payload{
			Text:           m.Text,
			Source:         m.Source,
			DocID:          m.DocID,
			ChunkIndex:     m.ChunkIndex,
			UserID:         m.Tenant.UserID,
			ProjectID:      m.Tenant.ProjectID,
			ConversationID: m.Tenant.ConversationID,
		}
	}
	return payloads
}
