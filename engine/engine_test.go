package engine

import (
	"context"
	"database/sql"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/vectorindex"
)

// memDriver is an in-memory store.Driver for engine tests.
type memDriver struct {
	mu       sync.Mutex
	nextID   int64
	docs     []*store.Document
	memories []*store.Memory
	links    []memLink

	failAll bool

	// ingestActive/ingestOverlap observe whether two IngestDocument calls
	// ever ran at the same time.
	ingestActive  int32
	ingestOverlap int32
}

type memLink struct {
	fromID int64
	toID   int64
	docID  string
	tenant store.TenantScope
}

var errDriverDown = errors.New("driver down")

func newMemDriver() *memDriver { return &memDriver{} }

func (d *memDriver) GetDB() *sql.DB { return nil }

func (d *memDriver) Close() error { return nil }

func (d *memDriver) Migrate(context.Context) error { return nil }

func (d *memDriver) IngestDocument(_ context.Context, doc *store.Document, memories []*store.Memory) ([]*store.Memory, error) {
	if atomic.AddInt32(&d.ingestActive, 1) > 1 {
		atomic.StoreInt32(&d.ingestOverlap, 1)
	}
	time.Sleep(time.Millisecond)
	defer atomic.AddInt32(&d.ingestActive, -1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, errDriverDown
	}

	exists := false
	for _, existing := range d.docs {
		if existing.ID == doc.ID && existing.Tenant == doc.Tenant {
			exists = true
			break
		}
	}
	if !exists {
		copied := *doc
		d.docs = append(d.docs, &copied)
	}

	var prev int64
	for i, m := range memories {
		d.nextID++
		m.ID = d.nextID
		d.memories = append(d.memories, m)
		if i > 0 {
			d.links = append(d.links, memLink{fromID: prev, toID: m.ID, docID: doc.ID, tenant: m.Tenant})
		}
		prev = m.ID
	}
	return memories, nil
}

func (d *memDriver) CreateMemory(_ context.Context, create *store.Memory) (*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, errDriverDown
	}
	d.nextID++
	create.ID = d.nextID
	d.memories = append(d.memories, create)
	return create, nil
}

func (d *memDriver) ListMemories(_ context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, errDriverDown
	}

	var list []*store.Memory
	for _, m := range d.memories {
		if !matchFind(m, find) {
			continue
		}
		list = append(list, m)
	}
	if find.OrderByRecent {
		sort.Slice(list, func(i, j int) bool {
			if list[i].CreatedTs != list[j].CreatedTs {
				return list[i].CreatedTs > list[j].CreatedTs
			}
			return list[i].ID > list[j].ID
		})
	}
	if find.Limit > 0 && len(list) > find.Limit {
		list = list[:find.Limit]
	}
	return list, nil
}

func matchFind(m *store.Memory, find *store.FindMemory) bool {
	if find.Tenant != nil && !find.Tenant.Matches(m.Tenant) {
		return false
	}
	if find.DocID != nil && m.DocID != *find.DocID {
		return false
	}
	if find.ContainsText != nil &&
		!strings.Contains(strings.ToLower(m.Text), strings.ToLower(*find.ContainsText)) {
		return false
	}
	return true
}

func (d *memDriver) CountMemories(ctx context.Context, find *store.FindMemory) (int64, error) {
	list, err := d.ListMemories(ctx, find)
	if err != nil {
		return 0, err
	}
	return int64(len(list)), nil
}

func (d *memDriver) CountMemoryLinks(_ context.Context, tenant store.TenantScope, docID string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n int64
	for _, l := range d.links {
		if l.docID == docID && tenant.Matches(l.tenant) {
			n++
		}
	}
	return n, nil
}

func (d *memDriver) ListDocumentSummaries(_ context.Context, tenant store.TenantScope) ([]*store.DocumentSummary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, errDriverDown
	}
	var list []*store.DocumentSummary
	for _, doc := range d.docs {
		if !tenant.Matches(doc.Tenant) {
			continue
		}
		summary := &store.DocumentSummary{DocID: doc.ID, Source: doc.Source, CreatedTs: doc.CreatedTs}
		for _, m := range d.memories {
			if m.DocID != doc.ID {
				continue
			}
			summary.MemoryCount++
			if m.ChunkIndex == 0 {
				summary.Preview = m.Text
			}
		}
		list = append(list, summary)
	}
	return list, nil
}

func (d *memDriver) DeleteByTenant(_ context.Context, tenant store.TenantScope) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return errDriverDown
	}
	d.memories = filterMemories(d.memories, func(m *store.Memory) bool { return !tenant.Matches(m.Tenant) })
	var docs []*store.Document
	for _, doc := range d.docs {
		if !tenant.Matches(doc.Tenant) {
			docs = append(docs, doc)
		}
	}
	d.docs = docs
	var links []memLink
	for _, l := range d.links {
		if !tenant.Matches(l.tenant) {
			links = append(links, l)
		}
	}
	d.links = links
	return nil
}

func (d *memDriver) DeleteMemoriesByPattern(_ context.Context, tenant store.TenantScope, pattern string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return 0, errDriverDown
	}
	before := len(d.memories)
	lowered := strings.ToLower(pattern)
	d.memories = filterMemories(d.memories, func(m *store.Memory) bool {
		return !(tenant.Matches(m.Tenant) && strings.Contains(strings.ToLower(m.Text), lowered))
	})
	return int64(before - len(d.memories)), nil
}

func (d *memDriver) DecayPriorities(_ context.Context, cutoffTs int64, factor float64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return 0, errDriverDown
	}
	var n int64
	for _, m := range d.memories {
		if m.CreatedTs < cutoffTs {
			m.Priority *= factor
			n++
		}
	}
	return n, nil
}

func (d *memDriver) GetMemoryStats(_ context.Context, tenant store.TenantScope) (*store.MemoryStats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failAll {
		return nil, errDriverDown
	}
	stats := &store.MemoryStats{}
	sources := map[string]bool{}
	var sum float64
	for _, m := range d.memories {
		if !tenant.Matches(m.Tenant) {
			continue
		}
		if stats.TotalCount == 0 {
			stats.MinPriority = m.Priority
			stats.MaxPriority = m.Priority
			stats.OldestTs = m.CreatedTs
			stats.NewestTs = m.CreatedTs
		}
		stats.TotalCount++
		sum += m.Priority
		stats.MinPriority = math.Min(stats.MinPriority, m.Priority)
		stats.MaxPriority = math.Max(stats.MaxPriority, m.Priority)
		if m.CreatedTs < stats.OldestTs {
			stats.OldestTs = m.CreatedTs
		}
		if m.CreatedTs > stats.NewestTs {
			stats.NewestTs = m.CreatedTs
		}
		sources[m.Source] = true
	}
	if stats.TotalCount > 0 {
		stats.AvgPriority = sum / float64(stats.TotalCount)
	}
	for s := range sources {
		stats.Sources = append(stats.Sources, s)
	}
	sort.Strings(stats.Sources)
	return stats, nil
}

func filterMemories(in []*store.Memory, keep func(*store.Memory) bool) []*store.Memory {
	var out []*store.Memory
	for _, m := range in {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// hashEmbedder produces deterministic unit vectors from token counts, so
// texts sharing words land closer together.
type hashEmbedder struct {
	dim  int
	fail bool
}

func (h *hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if h.fail {
		return nil, errors.New("provider down")
	}
	v := make([]float32, h.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		hs := fnv.New32a()
		hs.Write([]byte(w))
		v[int(hs.Sum32())%h.dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if h.fail {
		return nil, errors.New("provider down")
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (h *hashEmbedder) Dimensions() int { return h.dim }

// downIndex fails every operation, simulating an unreachable vector backend.
type downIndex struct{}

var errIndexDown = errors.New("index down")

func (downIndex) Add(context.Context, [][]float32, []vectorindex.Payload) error { return errIndexDown }
func (downIndex) Search(context.Context, []float32, int) ([]vectorindex.Hit, error) {
	return nil, errIndexDown
}
func (downIndex) DeleteTenant(context.Context, string, string, string) error { return errIndexDown }
func (downIndex) Reset(context.Context, int) error                   { return errIndexDown }
func (downIndex) Len(context.Context) (int, error)                   { return 0, errIndexDown }
func (downIndex) Dimensions() int                                    { return 0 }
func (downIndex) Close() error                                       { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) (*Engine, *memDriver, *hashEmbedder, *vectorindex.Flat) {
	t.Helper()
	driver := newMemDriver()
	idx, err := vectorindex.NewFlat(filepath.Join(t.TempDir(), "index.snapshot"))
	require.NoError(t, err)
	embedder := &hashEmbedder{dim: 8}
	eng := New(store.New(driver, nil), idx, embedder, discardLogger(), nil, Options{
		ChunkTargetWords:  20,
		ChunkOverlapWords: 3,
	})
	return eng, driver, embedder, idx
}

var (
	tenantAlice = store.TenantScope{UserID: "alice", ProjectID: "notes"}
	tenantBob   = store.TenantScope{UserID: "bob", ProjectID: "notes"}
)

func TestIngestWritesBothStores(t *testing.T) {
	eng, driver, _, idx := newTestEngine(t)
	ctx := context.Background()

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10)
	res, err := eng.Ingest(ctx, IngestRequest{Text: text, Tenant: tenantAlice, Source: "doc"})
	require.NoError(t, err)
	require.NotEmpty(t, res.DocID)
	require.Greater(t, res.ChunkCount, 1)

	count, err := driver.CountMemories(ctx, &store.FindMemory{Tenant: &tenantAlice})
	require.NoError(t, err)
	require.EqualValues(t, res.ChunkCount, count)

	links, err := driver.CountMemoryLinks(ctx, tenantAlice, res.DocID)
	require.NoError(t, err)
	require.EqualValues(t, res.ChunkCount-1, links, "consecutive chunks must be linked")

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, res.ChunkCount, n)

	for _, m := range driver.memories {
		require.Equal(t, DocumentPriority, m.Priority)
		require.Equal(t, res.DocID, m.DocID)
	}
}

func TestConcurrentIngestSameDocSerialized(t *testing.T) {
	eng, driver, _, _ := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Ingest(ctx, IngestRequest{
				Text:   "the very same document ingested from several callers at once",
				Tenant: tenantAlice,
				DocID:  "doc-shared",
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Zero(t, atomic.LoadInt32(&driver.ingestOverlap),
		"ingests of the same (tenant, doc) must not overlap")

	eng.ingestMu.mu.Lock()
	held := len(eng.ingestMu.locks)
	eng.ingestMu.mu.Unlock()
	require.Zero(t, held, "per-doc locks must be released once ingests finish")
}

func TestIngestEmptyText(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	_, err := eng.Ingest(context.Background(), IngestRequest{Text: "   \n\t ", Tenant: tenantAlice})
	require.ErrorIs(t, err, ErrExtractionUnavailable)
}

func TestIngestEmbeddingFailureWritesNothing(t *testing.T) {
	eng, driver, embedder, idx := newTestEngine(t)
	ctx := context.Background()
	embedder.fail = true

	_, err := eng.Ingest(ctx, IngestRequest{Text: "some document worth remembering forever", Tenant: tenantAlice})
	require.ErrorIs(t, err, ErrEmbeddingService)

	count, err := driver.CountMemories(ctx, &store.FindMemory{})
	require.NoError(t, err)
	require.Zero(t, count, "a failed embedding must leave no graph rows")
	n, err := idx.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIngestGraphFailureLeavesIndexEmpty(t *testing.T) {
	eng, driver, _, idx := newTestEngine(t)
	driver.failAll = true

	_, err := eng.Ingest(context.Background(), IngestRequest{Text: "short doomed document", Tenant: tenantAlice})
	require.ErrorIs(t, err, ErrGraphStoreUnavailable)

	n, err := idx.Len(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "vectors must not be projected before the graph commit")
}

func TestReingestCreatesNewMemories(t *testing.T) {
	eng, driver, _, _ := newTestEngine(t)
	ctx := context.Background()

	text := "alice considers the quarterly report finished"
	first, err := eng.Ingest(ctx, IngestRequest{Text: text, Tenant: tenantAlice})
	require.NoError(t, err)
	second, err := eng.Ingest(ctx, IngestRequest{Text: text, Tenant: tenantAlice})
	require.NoError(t, err)
	require.NotEqual(t, first.DocID, second.DocID)

	count, err := driver.CountMemories(ctx, &store.FindMemory{Tenant: &tenantAlice})
	require.NoError(t, err)
	require.EqualValues(t, 2, count, "re-ingesting identical content creates independent rows")

	// Duplicate rows collapse at read time.
	results, err := eng.Search(ctx, "quarterly report", tenantAlice, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestRecordTurn(t *testing.T) {
	eng, driver, _, idx := newTestEngine(t)
	ctx := context.Background()

	err := eng.RecordTurn(ctx, "where does carol work?", "Carol no longer works at Initech.", tenantAlice)
	require.NoError(t, err)

	require.Len(t, driver.memories, 1)
	m := driver.memories[0]
	require.Equal(t, "User: where does carol work?\nAssistant: Carol no longer works at Initech.", m.Text)
	require.Equal(t, "chat", m.Source)
	require.Equal(t, TurnPriority, m.Priority)
	require.Empty(t, m.DocID)
	require.True(t, m.Negation, "'no longer' must mark the turn as a negation")

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRecordTurnEmpty(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	err := eng.RecordTurn(context.Background(), "", "  ", tenantAlice)
	require.ErrorIs(t, err, ErrExtractionUnavailable)
}

func TestSearchTenantIsolation(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Ingest(ctx, IngestRequest{Text: "alice keeps the launch checklist current", Tenant: tenantAlice})
	require.NoError(t, err)
	_, err = eng.Ingest(ctx, IngestRequest{Text: "bob hides the launch checklist password", Tenant: tenantBob})
	require.NoError(t, err)

	results, err := eng.Search(ctx, "launch checklist password", tenantAlice, 10)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		require.NotContains(t, r.Text, "bob", "a tenant must never see another tenant's memories")
		require.NotContains(t, r.Text, "password")
	}
}

func TestSearchConversationScope(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	convA := tenantAlice
	convA.ConversationID = "conv-1"
	convB := tenantAlice
	convB.ConversationID = "conv-2"

	require.NoError(t, eng.RecordTurn(ctx, "what is the plan?", "Ship on friday.", convA))
	require.NoError(t, eng.RecordTurn(ctx, "what is the plan?", "Cancel the launch.", convB))

	results, err := eng.Search(ctx, "plan friday ship launch", convA, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Contains(t, results[0].Text, "friday")

	// An unbound scope sees both conversations.
	results, err = eng.Search(ctx, "plan friday ship launch", tenantAlice, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestSearchEmptyTenant(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	results, err := eng.Search(context.Background(), "anything at all", tenantAlice, 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchEmbeddingFailure(t *testing.T) {
	eng, _, embedder, _ := newTestEngine(t)
	embedder.fail = true
	_, err := eng.Search(context.Background(), "query", tenantAlice, 5)
	require.ErrorIs(t, err, ErrEmbeddingService)
}

func TestSearchKeywordFallbackWhenIndexDown(t *testing.T) {
	driver := newMemDriver()
	eng := New(store.New(driver, nil), downIndex{}, &hashEmbedder{dim: 8}, discardLogger(), nil, Options{})
	ctx := context.Background()

	_, err := driver.CreateMemory(ctx, &store.Memory{
		Text:      "carol joined the acme hardware team in april",
		Source:    "doc",
		Priority:  DocumentPriority,
		Tenant:    tenantAlice,
		CreatedTs: 1,
	})
	require.NoError(t, err)

	results, err := eng.Search(ctx, "when did carol join acme?", tenantAlice, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "keyword", results[0].Stage)
	require.EqualValues(t, 0.5, results[0].Score)
	require.Equal(t, 67, results[0].MatchPercentage)
}

func TestSearchBothBackendsDown(t *testing.T) {
	driver := newMemDriver()
	driver.failAll = true
	eng := New(store.New(driver, nil), downIndex{}, &hashEmbedder{dim: 8}, discardLogger(), nil, Options{})

	_, err := eng.Search(context.Background(), "anything searchable", tenantAlice, 5)
	require.ErrorIs(t, err, ErrGraphStoreUnavailable)
}

func TestSearchGraphDownEmptyIndex(t *testing.T) {
	eng, driver, _, _ := newTestEngine(t)

	// A healthy but empty index delivers nothing, so the failing keyword
	// fallback is the whole answer and must surface as an error.
	driver.failAll = true

	_, err := eng.Search(context.Background(), "anything searchable", tenantAlice, 5)
	require.ErrorIs(t, err, ErrGraphStoreUnavailable)
}

func TestDocumentsAndRecent(t *testing.T) {
	eng, _, _, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Ingest(ctx, IngestRequest{Text: "meeting notes from the tuesday planning session with the infra team", Tenant: tenantAlice, Source: "upload"})
	require.NoError(t, err)

	docs, err := eng.Documents(ctx, tenantAlice)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, res.DocID, docs[0].DocID)
	require.EqualValues(t, res.ChunkCount, docs[0].MemoryCount)
	require.NotEmpty(t, docs[0].Preview)

	recent, err := eng.Recent(ctx, tenantAlice, 10)
	require.NoError(t, err)
	require.Len(t, recent, res.ChunkCount)
	require.Equal(t, "meeting notes from the tuesday...", recent[0].Title)

	total, err := eng.TotalCount(ctx, tenantAlice)
	require.NoError(t, err)
	require.EqualValues(t, res.ChunkCount, total)

	stats, err := eng.Stats(ctx, tenantAlice)
	require.NoError(t, err)
	require.EqualValues(t, res.ChunkCount, stats.TotalCount)
	require.Equal(t, []string{"upload"}, stats.Sources)
}
