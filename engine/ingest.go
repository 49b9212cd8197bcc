package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/drclabs/recall/chunker"
	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/vectorindex"
)

// IngestRequest is one document ingestion.
type IngestRequest struct {
	Text   string
	Tenant store.TenantScope
	Source string
	DocID  string // generated when empty
}

// IngestResult reports what an ingestion produced.
type IngestResult struct {
	DocID      string
	ChunkCount int
}

// Ingest chunks text, embeds every chunk, and writes both stores.
//
// Write order follows the source-of-truth rule: embeddings are computed
// up front (a failure there aborts with nothing written), then the graph
// store commits the document, its memories and their NEXT links in one
// transaction, and only then are vectors projected into the index. A crash
// between the two writes leaves the graph ahead of the index, which
// Reconcile repairs at startup; the index never holds entries the graph
// does not know about.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.Wrap(ErrExtractionUnavailable, "empty document text")
	}

	docID := req.DocID
	if docID == "" {
		docID = shortuuid.New()
	}

	chunks := chunker.Split(text, chunker.Options{
		TargetWords:  e.opts.ChunkTargetWords,
		OverlapWords: e.opts.ChunkOverlapWords,
	})
	if len(chunks) == 0 {
		return &IngestResult{DocID: docID, ChunkCount: 0}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	unlock := e.ingestMu.lock(ingestKey(req.Tenant, docID))
	defer unlock()

	// Embed before any write so an embedding failure leaves no partial state.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embedStart := time.Now()
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.Wrapf(ErrEmbeddingService, "embed %d chunks: %v", len(chunks), err)
	}
	if len(vectors) != len(chunks) {
		return nil, errors.Wrapf(ErrEmbeddingService, "expected %d vectors, got %d", len(chunks), len(vectors))
	}
	if e.metrics != nil {
		e.metrics.ObserveEmbedding(time.Since(embedStart))
	}

	now := time.Now().Unix()
	doc := &store.Document{
		ID:        docID,
		Source:    req.Source,
		Tenant:    req.Tenant,
		CreatedTs: now,
	}
	memories := make([]*store.Memory, len(chunks))
	for i, c := range chunks {
		memories[i] = &store.Memory{
			Text:       c.Text,
			Source:     req.Source,
			DocID:      docID,
			ChunkIndex: i,
			Priority:   DocumentPriority,
			Negation:   c.Negation,
			Tenant:     req.Tenant,
			CreatedTs:  now,
		}
	}

	if _, err := e.store.IngestDocument(ctx, doc, memories); err != nil {
		return nil, errors.Wrapf(ErrGraphStoreUnavailable, "ingest document %s: %v", docID, err)
	}

	payloads := make([]vectorindex.Payload, len(chunks))
	for i, c := range chunks {
		payloads[i] = vectorindex.Payload{
			Text:           c.Text,
			Source:         req.Source,
			DocID:          docID,
			ChunkIndex:     i,
			UserID:         req.Tenant.UserID,
			ProjectID:      req.Tenant.ProjectID,
			ConversationID: req.Tenant.ConversationID,
		}
	}
	if err := e.index.Add(ctx, vectors, payloads); err != nil {
		// The graph commit already happened; surface the drift instead of
		// masking it. Reconcile brings the index back in step.
		e.logger.Error("vector projection failed after graph commit",
			"doc_id", docID, "chunks", len(chunks), "error", err)
		return nil, errors.Wrapf(ErrVectorIndexUnavailable, "project document %s: %v", docID, err)
	}

	if e.metrics != nil {
		e.metrics.ObserveIngest(len(chunks), time.Since(start))
	}
	e.logger.Info("document ingested",
		"doc_id", docID, "source", req.Source, "chunks", len(chunks),
		"user_id", req.Tenant.UserID, "project_id", req.Tenant.ProjectID)

	return &IngestResult{DocID: docID, ChunkCount: len(chunks)}, nil
}

// RecordTurn captures one question/answer exchange as a single memory with
// reduced priority. Turns skip chunking and document bookkeeping entirely.
func (e *Engine) RecordTurn(ctx context.Context, query, answer string, tenant store.TenantScope) error {
	query = strings.TrimSpace(query)
	answer = strings.TrimSpace(answer)
	if query == "" && answer == "" {
		return errors.Wrap(ErrExtractionUnavailable, "empty conversation turn")
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	text := fmt.Sprintf("User: %s\nAssistant: %s", query, answer)

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return errors.Wrapf(ErrEmbeddingService, "embed turn: %v", err)
	}

	mem := &store.Memory{
		Text:      text,
		Source:    "chat",
		Priority:  TurnPriority,
		Negation:  chunker.HasNegation(text),
		Tenant:    tenant,
		CreatedTs: time.Now().Unix(),
	}
	if _, err := e.store.CreateMemory(ctx, mem); err != nil {
		return errors.Wrapf(ErrGraphStoreUnavailable, "record turn: %v", err)
	}

	payload := vectorindex.Payload{
		Text:           text,
		Source:         "chat",
		UserID:         tenant.UserID,
		ProjectID:      tenant.ProjectID,
		ConversationID: tenant.ConversationID,
	}
	if err := e.index.Add(ctx, [][]float32{vector}, []vectorindex.Payload{payload}); err != nil {
		e.logger.Error("vector projection failed after graph commit", "source", "chat", "error", err)
		return errors.Wrapf(ErrVectorIndexUnavailable, "project turn: %v", err)
	}

	e.logger.Info("conversation turn recorded",
		"user_id", tenant.UserID, "project_id", tenant.ProjectID,
		"conversation_id", tenant.ConversationID)
	return nil
}

func ingestKey(t store.TenantScope, docID string) string {
	return t.UserID + "\x00" + t.ProjectID + "\x00" + docID
}
