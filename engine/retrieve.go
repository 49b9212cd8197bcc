package engine

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/drclabs/recall/store"
	"github.com/drclabs/recall/vectorindex"
)

const (
	// overFetchFactor widens stage-1 queries so enough neighbors survive
	// tenant filtering.
	overFetchFactor = 3

	// fallbackScore is the neutral placeholder distance for keyword hits,
	// sorting them behind genuine vector matches.
	fallbackScore = 0.5

	// keyword fallback bounds.
	maxKeywords     = 3
	minKeywordLen   = 4
	perKeywordLimit = 3
	defaultSearchK  = 5
)

// typoFixes maps common misspellings and abbreviations to canonical forms.
// Applied to the lowercased query before the stage-2 retry.
var typoFixes = map[string]string{
	"fidn":   "friend",
	"frnd":   "friend",
	"fren":   "friend",
	"wrk":    "work",
	"wrking": "working",
	"drc":    "DRC",
}

// Result is one scored retrieval hit.
type Result struct {
	Text            string
	Source          string
	DocID           string
	ChunkIndex      int
	Score           float32 // raw distance; lower is closer. 0.5 placeholder for keyword hits.
	MatchPercentage int     // display transform of Score, not used for ranking
	Stage           string  // "semantic", "corrected" or "keyword"
}

// Search retrieves up to k memories for the tenant, cascading through three
// strategies: direct semantic search, a typo-corrected retry, and a keyword
// substring fallback against the graph store. Each later stage runs only
// while the accumulator holds fewer than k results, and may only add texts
// not already collected.
//
// Results never include a memory stored under a different tenant, no matter
// how close its vector is.
func (e *Engine) Search(ctx context.Context, query string, tenant store.TenantScope, k int) ([]Result, error) {
	start := time.Now()
	if k <= 0 {
		k = defaultSearchK
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
	defer cancel()

	logger := e.logger.With("request_id", uuid.NewString())

	var (
		results   []Result
		seen      = map[string]bool{}
		indexDown bool
	)

	// Stage 1: direct semantic search.
	hits, err := e.semanticSearch(ctx, query, tenant, k)
	if err != nil {
		if errors.Is(err, ErrEmbeddingService) {
			return nil, err
		}
		indexDown = true
		logger.Warn("vector search unavailable, degrading to keyword fallback", "error", err)
	}
	for _, h := range hits {
		if !seen[h.Payload.Text] {
			seen[h.Payload.Text] = true
			results = append(results, hitToResult(h, "semantic"))
		}
	}
	if e.metrics != nil {
		e.metrics.CountStageHits("semantic", len(results))
	}

	// Stage 2: typo-corrected retry, only when the dictionary changes the
	// query.
	if len(results) < k && !indexDown {
		if corrected, changed := applyTypoFixes(query); changed {
			logger.Info("retrying with corrected query", "corrected", corrected)
			extra, err := e.semanticSearch(ctx, corrected, tenant, k)
			if err != nil {
				if errors.Is(err, ErrEmbeddingService) {
					return nil, err
				}
				indexDown = true
				logger.Warn("corrected-query search unavailable", "error", err)
			}
			added := 0
			for _, h := range extra {
				if len(results) >= k {
					break
				}
				if !seen[h.Payload.Text] {
					seen[h.Payload.Text] = true
					results = append(results, hitToResult(h, "corrected"))
					added++
				}
			}
			if e.metrics != nil {
				e.metrics.CountStageHits("corrected", added)
			}
		}
	}

	// Stage 3: keyword substring fallback against the graph store.
	if len(results) < k {
		added, err := e.keywordFallback(ctx, query, tenant, k, seen, &results)
		if err != nil {
			// Stages 1-2 may have delivered; a degraded result beats a
			// hard failure unless we have nothing at all.
			if len(results) == 0 {
				return nil, errors.Wrapf(ErrGraphStoreUnavailable, "keyword fallback: %v", err)
			}
			logger.Warn("keyword fallback unavailable", "error", err)
		}
		if e.metrics != nil {
			e.metrics.CountStageHits("keyword", added)
		}
	}

	if len(results) > k {
		results = results[:k]
	}
	if e.metrics != nil {
		e.metrics.ObserveSearch(time.Since(start))
	}
	logger.Info("search completed", "query", query, "results", len(results),
		"user_id", tenant.UserID, "project_id", tenant.ProjectID)
	return results, nil
}

// semanticSearch embeds the query, over-fetches nearest neighbors, and keeps
// only tenant-matching entries, truncated to k.
func (e *Engine) semanticSearch(ctx context.Context, query string, tenant store.TenantScope, k int) ([]vectorindex.Hit, error) {
	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(ErrEmbeddingService, "embed query: %v", err)
	}

	hits, err := e.index.Search(ctx, vector, overFetchFactor*k)
	if err != nil {
		return nil, errors.Wrapf(ErrVectorIndexUnavailable, "vector search: %v", err)
	}

	filtered := make([]vectorindex.Hit, 0, k)
	for _, h := range hits {
		if !tenant.Matches(store.TenantScope{
			UserID:         h.Payload.UserID,
			ProjectID:      h.Payload.ProjectID,
			ConversationID: h.Payload.ConversationID,
		}) {
			continue
		}
		filtered = append(filtered, h)
		if len(filtered) == k {
			break
		}
	}
	return filtered, nil
}

// keywordFallback merges previously-unseen tenant memories whose text
// contains one of the query's significant tokens. Returns how many results
// it added.
func (e *Engine) keywordFallback(ctx context.Context, query string, tenant store.TenantScope, k int, seen map[string]bool, results *[]Result) (int, error) {
	keywords := extractKeywords(query)
	added := 0
	for _, kw := range keywords {
		if len(*results) >= k {
			break
		}
		contains := kw
		memories, err := e.store.ListMemories(ctx, &store.FindMemory{
			Tenant:       &tenant,
			ContainsText: &contains,
			Limit:        perKeywordLimit,
		})
		if err != nil {
			return added, err
		}
		for _, m := range memories {
			if len(*results) >= k {
				break
			}
			if seen[m.Text] {
				continue
			}
			seen[m.Text] = true
			*results = append(*results, Result{
				Text:            m.Text,
				Source:          m.Source,
				DocID:           m.DocID,
				ChunkIndex:      m.ChunkIndex,
				Score:           fallbackScore,
				MatchPercentage: matchPercentage(fallbackScore),
				Stage:           "keyword",
			})
			added++
		}
	}
	return added, nil
}

// applyTypoFixes rewrites known misspellings in the lowercased query.
// Reports whether anything changed.
func applyTypoFixes(query string) (string, bool) {
	corrected := strings.ToLower(query)
	for typo, fix := range typoFixes {
		corrected = strings.ReplaceAll(corrected, typo, fix)
	}
	return corrected, corrected != strings.ToLower(query)
}

// extractKeywords keeps up to three query tokens longer than three characters.
func extractKeywords(query string) []string {
	var keywords []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= minKeywordLen {
			keywords = append(keywords, w)
			if len(keywords) == maxKeywords {
				break
			}
		}
	}
	return keywords
}

func hitToResult(h vectorindex.Hit, stage string) Result {
	return Result{
		Text:            h.Payload.Text,
		Source:          h.Payload.Source,
		DocID:           h.Payload.DocID,
		ChunkIndex:      h.Payload.ChunkIndex,
		Score:           h.Score,
		MatchPercentage: matchPercentage(h.Score),
		Stage:           stage,
	}
}

// matchPercentage is a bounded, monotonically decreasing display transform of
// a raw distance. It never participates in ranking.
func matchPercentage(score float32) int {
	return int(math.Round(100 / (1 + float64(score))))
}
