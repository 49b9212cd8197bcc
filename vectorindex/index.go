// Package vectorindex provides nearest-neighbor search over fixed-dimension
// embeddings. The index is a derived, rebuildable cache: the graph store
// remains the authoritative record of existence, and any index can be thrown
// away and rebuilt from it.
package vectorindex

import (
	"context"

	"github.com/pkg/errors"
)

// ErrDimensionMismatch is returned when a vector's dimension differs from the
// index's. Mixing dimensions corrupts the index, so this is fatal for the
// write that attempts it.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Payload is the metadata stored alongside each vector. It carries everything
// retrieval needs without a round trip to the graph store.
type Payload struct {
	Text           string `json:"text"`
	Source         string `json:"source"`
	DocID          string `json:"doc_id,omitempty"`
	ChunkIndex     int    `json:"chunk_index"`
	UserID         string `json:"user_id"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Hit is one search result. Score is the L2 distance to the query vector;
// lower is closer.
type Hit struct {
	Payload Payload
	Score   float32
}

// Index is a nearest-neighbor search service over embeddings.
type Index interface {
	// Add appends vectors with their payloads and durably persists the
	// change before returning.
	Add(ctx context.Context, vectors [][]float32, payloads []Payload) error

	// Search returns up to limit nearest entries to vector, closest first.
	Search(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// DeleteTenant removes every entry belonging to (userID, projectID).
	// A non-empty conversationID narrows the deletion to that conversation,
	// leaving sibling conversations' entries in place.
	DeleteTenant(ctx context.Context, userID, projectID, conversationID string) error

	// Reset discards all entries and fixes the dimension for subsequent Adds.
	Reset(ctx context.Context, dimensions int) error

	// Len reports the number of live entries.
	Len(ctx context.Context) (int, error)

	// Dimensions reports the fixed vector dimension, or 0 when the index is
	// empty and the dimension is not yet pinned.
	Dimensions() int

	Close() error
}
