// Package v1 exposes the memory engine over a JSON REST API.
package v1

import (
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"

	"github.com/drclabs/recall/engine"
	"github.com/drclabs/recall/internal/profile"
	"github.com/drclabs/recall/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Engine  *engine.Engine

	// ingestSemaphore bounds concurrent document ingestions; embedding calls
	// dominate ingest cost and the provider rate limit is shared.
	ingestSemaphore *semaphore.Weighted
}

func NewAPIV1Service(instanceProfile *profile.Profile, storeInstance *store.Store, eng *engine.Engine) *APIV1Service {
	concurrency := int64(instanceProfile.IngestConcurrency)
	if concurrency <= 0 {
		concurrency = 4
	}
	return &APIV1Service{
		Profile:         instanceProfile,
		Store:           storeInstance,
		Engine:          eng,
		ingestSemaphore: semaphore.NewWeighted(concurrency),
	}
}

func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1")

	g.POST("/memories/ingest", s.IngestDocument)
	g.POST("/memories/turn", s.RecordTurn)
	g.POST("/memories/search", s.SearchMemories)
	g.GET("/memories", s.ListMemories)
	g.GET("/memories/documents", s.ListDocuments)
	g.GET("/memories/stats", s.GetMemoryStats)
	g.DELETE("/memories", s.ClearTenant)
	g.POST("/memories/decay", s.DecayMemories)
	g.POST("/memories/purge", s.PurgeMemories)
}
