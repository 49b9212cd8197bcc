package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/drclabs/recall/engine"
	"github.com/drclabs/recall/store"
)

const defaultDecayDays = 30

type tenantFields struct {
	UserID         string `json:"user_id" query:"user_id"`
	ProjectID      string `json:"project_id" query:"project_id"`
	ConversationID string `json:"conversation_id" query:"conversation_id"`
}

func (t tenantFields) scope() (store.TenantScope, error) {
	if t.UserID == "" || t.ProjectID == "" {
		return store.TenantScope{}, errors.New("user_id and project_id are required")
	}
	return store.TenantScope{
		UserID:         t.UserID,
		ProjectID:      t.ProjectID,
		ConversationID: t.ConversationID,
	}, nil
}

type ingestRequest struct {
	tenantFields
	Text   string `json:"text"`
	Source string `json:"source"`
	DocID  string `json:"doc_id"`
}

type ingestResponse struct {
	DocID      string `json:"doc_id"`
	ChunkCount int    `json:"chunk_count"`
}

// IngestDocument chunks, embeds and stores one document for a tenant.
func (s *APIV1Service) IngestDocument(c echo.Context) error {
	ctx := c.Request().Context()

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	tenant, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Source == "" {
		req.Source = "doc"
	}

	if err := s.ingestSemaphore.Acquire(ctx, 1); err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "ingestion queue full").SetInternal(err)
	}
	defer s.ingestSemaphore.Release(1)

	result, err := s.Engine.Ingest(ctx, engine.IngestRequest{
		Text:   req.Text,
		Tenant: tenant,
		Source: req.Source,
		DocID:  req.DocID,
	})
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, ingestResponse{DocID: result.DocID, ChunkCount: result.ChunkCount})
}

type turnRequest struct {
	tenantFields
	Query  string `json:"query"`
	Answer string `json:"answer"`
}

// RecordTurn stores one question/answer exchange as a low-priority memory.
func (s *APIV1Service) RecordTurn(c echo.Context) error {
	ctx := c.Request().Context()

	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	tenant, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.Engine.RecordTurn(ctx, req.Query, req.Answer, tenant); err != nil {
		return engineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type searchRequest struct {
	tenantFields
	Query string `json:"query"`
	K     int    `json:"k"`
}

type searchResult struct {
	Text            string  `json:"text"`
	Source          string  `json:"source"`
	DocID           string  `json:"doc_id,omitempty"`
	ChunkIndex      int     `json:"chunk_index"`
	Score           float32 `json:"score"`
	MatchPercentage int     `json:"match_percentage"`
	Stage           string  `json:"stage"`
}

// SearchMemories runs the cascading retrieval pipeline for a tenant.
func (s *APIV1Service) SearchMemories(c echo.Context) error {
	ctx := c.Request().Context()

	var req searchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	tenant, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	results, err := s.Engine.Search(ctx, req.Query, tenant, req.K)
	if err != nil {
		return engineError(err)
	}

	resp := make([]searchResult, len(results))
	for i, r := range results {
		resp[i] = searchResult{
			Text:            r.Text,
			Source:          r.Source,
			DocID:           r.DocID,
			ChunkIndex:      r.ChunkIndex,
			Score:           r.Score,
			MatchPercentage: r.MatchPercentage,
			Stage:           r.Stage,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

type memoryOverview struct {
	TotalCount    int64                 `json:"total_count"`
	DocumentCount int                   `json:"document_count"`
	Memories      []engine.RecentMemory `json:"memories"`
}

// ListMemories returns the tenant's memory count and most recent entries.
func (s *APIV1Service) ListMemories(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := queryTenant(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	total, err := s.Engine.TotalCount(ctx, tenant)
	if err != nil {
		return engineError(err)
	}
	docs, err := s.Engine.Documents(ctx, tenant)
	if err != nil {
		return engineError(err)
	}
	recent, err := s.Engine.Recent(ctx, tenant, limit)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, memoryOverview{
		TotalCount:    total,
		DocumentCount: len(docs),
		Memories:      recent,
	})
}

// ListDocuments returns per-document rollups for the tenant.
func (s *APIV1Service) ListDocuments(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := queryTenant(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	docs, err := s.Engine.Documents(ctx, tenant)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, docs)
}

// GetMemoryStats returns aggregate statistics for the tenant.
func (s *APIV1Service) GetMemoryStats(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := queryTenant(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	stats, err := s.Engine.Stats(ctx, tenant)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// ClearTenant permanently removes every memory, document and vector owned by
// the tenant.
func (s *APIV1Service) ClearTenant(c echo.Context) error {
	ctx := c.Request().Context()

	tenant, err := queryTenant(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.Engine.ClearTenant(ctx, tenant); err != nil {
		return engineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type decayRequest struct {
	Days   int     `json:"days"`
	Factor float64 `json:"factor"`
}

type decayResponse struct {
	Updated int64 `json:"updated"`
}

// DecayMemories downweights memories older than the given number of days.
func (s *APIV1Service) DecayMemories(c echo.Context) error {
	ctx := c.Request().Context()

	var req decayRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	if req.Days <= 0 {
		req.Days = defaultDecayDays
	}
	if req.Factor == 0 {
		req.Factor = 0.5
	}

	updated, err := s.Engine.Decay(ctx, time.Duration(req.Days)*24*time.Hour, req.Factor)
	if err != nil {
		if errors.Is(err, engine.ErrGraphStoreUnavailable) {
			return engineError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, decayResponse{Updated: updated})
}

type purgeRequest struct {
	tenantFields
	Pattern string `json:"pattern"`
}

type purgeResponse struct {
	Deleted int64 `json:"deleted"`
}

// PurgeMemories deletes the tenant's memories matching a substring pattern
// and rebuilds the vector index.
func (s *APIV1Service) PurgeMemories(c echo.Context) error {
	ctx := c.Request().Context()

	var req purgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	tenant, err := req.scope()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Pattern == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern is required")
	}

	deleted, err := s.Engine.PurgePattern(ctx, tenant, req.Pattern)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, purgeResponse{Deleted: deleted})
}

func queryTenant(c echo.Context) (store.TenantScope, error) {
	return tenantFields{
		UserID:         c.QueryParam("user_id"),
		ProjectID:      c.QueryParam("project_id"),
		ConversationID: c.QueryParam("conversation_id"),
	}.scope()
}

// engineError maps engine failure kinds onto HTTP statuses. Input problems
// are the caller's fault; unavailable collaborators are ours.
func engineError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, engine.ErrExtractionUnavailable):
		return echo.NewHTTPError(http.StatusBadRequest, "no usable text in request").SetInternal(err)
	case errors.Is(err, engine.ErrEmbeddingService):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding service unavailable").SetInternal(err)
	case errors.Is(err, engine.ErrVectorIndexUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "vector index unavailable").SetInternal(err)
	case errors.Is(err, engine.ErrGraphStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "memory store unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
