// Package engine is the hybrid ingestion-and-retrieval memory core. It keeps
// two stores in step: the graph store (authoritative record of existence) and
// the vector index (derived nearest-neighbor cache). Ingestion writes the
// graph first, then projects vectors; retrieval cascades from semantic search
// through typo correction down to a keyword fallback, with strict tenant
// isolation throughout.
package engine

import (
	"log/slog"
	"sync"
	"time"

	"github.com/drclabs/recall/embed"
	"github.com/drclabs/recall/internal/metrics"
	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/vectorindex"
)

const (
	// DocumentPriority is assigned to document chunks.
	DocumentPriority = 1.0

	// TurnPriority is assigned to recorded conversation turns, reflecting
	// their lower long-term relevance.
	TurnPriority = 0.8

	// defaultOpTimeout bounds each engine operation's external calls.
	defaultOpTimeout = 30 * time.Second
)

// Options tune the engine.
type Options struct {
	ChunkTargetWords  int
	ChunkOverlapWords int

	// OpTimeout bounds a single ingest/search/maintenance operation.
	OpTimeout time.Duration
}

// Engine wires the chunker, the embedding service, the vector index and the
// graph store into the memory core. All dependencies are injected; the engine
// holds no ambient global state.
type Engine struct {
	store    *store.Store
	index    vectorindex.Index
	embedder embed.Service
	logger   *slog.Logger
	metrics  *metrics.Collector
	opts     Options

	// ingestMu serializes ingestion per (tenant, doc) so concurrent ingests
	// of the same document cannot interleave chunk indexes or race the
	// document upsert.
	ingestMu keyedMutex
}

// New creates an Engine. A nil collector disables metrics.
func New(st *store.Store, index vectorindex.Index, embedder embed.Service, logger *slog.Logger, collector *metrics.Collector, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkTargetWords <= 0 {
		opts.ChunkTargetWords = 100
	}
	if opts.ChunkOverlapWords < 0 {
		opts.ChunkOverlapWords = 10
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	return &Engine{
		store:    st,
		index:    index,
		embedder: embedder,
		logger:   logger,
		metrics:  collector,
		opts:     opts,
	}
}

// keyedMutex hands out one mutex per string key. Entries are refcounted and
// dropped from the map once the last holder unlocks, so the map only grows
// with the number of in-flight keys, not the number of keys ever seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
