package vectorindex

import (
	"context"
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// compactionRatio triggers snapshot compaction once tombstones exceed this
// fraction of total entries.
const compactionRatio = 0.25

// Flat is a brute-force L2 index held in memory and persisted wholesale to a
// single snapshot file after every mutating write. Tenant deletion tombstones
// entries in place; compaction rewrites the snapshot once tombstones pile up,
// so clearing one tenant never requires re-embedding the others.
//
// Search is O(n) per query, which is the intended trade-off for a local,
// dependency-free index that can always be rebuilt from the graph store.
type Flat struct {
	mu        sync.RWMutex
	path      string
	dim       int
	entries   []flatEntry
	tombstone int
	onCompact func()
}

type flatEntry struct {
	Vector  []float32
	Payload Payload
	Deleted bool
}

// flatSnapshot is the on-disk format.
type flatSnapshot struct {
	Dim     int
	Entries []flatEntry
}

// NewFlat loads the snapshot at path, or starts empty when none exists.
// A snapshot that cannot be decoded is an error; the caller decides whether
// to discard it and rebuild from the graph store.
func NewFlat(path string) (*Flat, error) {
	f := &Flat{path: path}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open index snapshot %s", path)
	}
	defer file.Close()

	var snap flatSnapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, errors.Wrapf(err, "failed to decode index snapshot %s", path)
	}

	f.dim = snap.Dim
	f.entries = snap.Entries
	for _, e := range f.entries {
		if e.Deleted {
			f.tombstone++
		}
	}
	return f, nil
}

func (f *Flat) Add(ctx context.Context, vectors [][]float32, payloads []Payload) error {
	if len(vectors) != len(payloads) {
		return errors.Errorf("vector/payload count mismatch: %d != %d", len(vectors), len(payloads))
	}
	if len(vectors) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dim == 0 {
		f.dim = len(vectors[0])
	}
	for _, v := range vectors {
		if len(v) != f.dim {
			return errors.Wrapf(ErrDimensionMismatch, "got %d, index has %d", len(v), f.dim)
		}
	}

	for i, v := range vectors {
		f.entries = append(f.entries, flatEntry{Vector: v, Payload: payloads[i]})
	}
	return f.saveLocked()
}

func (f *Flat) Search(_ context.Context, vector []float32, limit int) ([]Hit, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.entries) == 0 || limit <= 0 {
		return nil, nil
	}
	if len(vector) != f.dim {
		return nil, errors.Wrapf(ErrDimensionMismatch, "query has %d, index has %d", len(vector), f.dim)
	}

	hits := make([]Hit, 0, len(f.entries)-f.tombstone)
	for _, e := range f.entries {
		if e.Deleted {
			continue
		}
		hits = append(hits, Hit{Payload: e.Payload, Score: l2Distance(vector, e.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score < hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *Flat) DeleteTenant(_ context.Context, userID, projectID, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.entries {
		e := &f.entries[i]
		if e.Deleted || e.Payload.UserID != userID || e.Payload.ProjectID != projectID {
			continue
		}
		if conversationID != "" && e.Payload.ConversationID != conversationID {
			continue
		}
		e.Deleted = true
		f.tombstone++
	}

	if len(f.entries) > 0 && float64(f.tombstone) > compactionRatio*float64(len(f.entries)) {
		f.compactLocked()
	}
	return f.saveLocked()
}

func (f *Flat) Reset(_ context.Context, dimensions int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.dim = dimensions
	f.entries = nil
	f.tombstone = 0
	return f.saveLocked()
}

func (f *Flat) Len(_ context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries) - f.tombstone, nil
}

func (f *Flat) Dimensions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dim
}

func (f *Flat) Close() error {
	return nil
}

// SetCompactionHook registers fn to run after each compaction. Set before
// the index receives traffic.
func (f *Flat) SetCompactionHook(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCompact = fn
}

// compactLocked drops tombstoned entries. Caller holds the write lock.
func (f *Flat) compactLocked() {
	live := make([]flatEntry, 0, len(f.entries)-f.tombstone)
	for _, e := range f.entries {
		if !e.Deleted {
			live = append(live, e)
		}
	}
	f.entries = live
	f.tombstone = 0
	if f.onCompact != nil {
		f.onCompact()
	}
}

// saveLocked writes the snapshot atomically via a temp file rename.
// Caller holds the write lock.
func (f *Flat) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create snapshot temp file")
	}
	defer os.Remove(tmp.Name())

	snap := flatSnapshot{Dim: f.dim, Entries: f.entries}
	if err := gob.NewEncoder(tmp).Encode(&snap); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close snapshot temp file")
	}
	return errors.Wrap(os.Rename(tmp.Name(), f.path), "failed to replace snapshot")
}

func l2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
