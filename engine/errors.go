package engine

import "github.com/pkg/errors"

// Failure kinds surfaced to callers. Each external collaborator gets its own
// kind so callers can decide whether a degraded result is acceptable; detect
// them with errors.Is.
var (
	// ErrExtractionUnavailable means upstream text extraction produced
	// nothing usable; ingestion never starts.
	ErrExtractionUnavailable = errors.New("text extraction unavailable")

	// ErrEmbeddingService means the embedding call failed. The whole ingest
	// or search call aborts with no partial write.
	ErrEmbeddingService = errors.New("embedding service failed")

	// ErrVectorIndexUnavailable means the index could not be read or written.
	// Ingestion aborts; search degrades to the keyword fallback stage.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrGraphStoreUnavailable means the graph store could not be reached.
	// Fatal for ingestion and aggregation; search loses only the fallback.
	ErrGraphStoreUnavailable = errors.New("graph store unavailable")
)
