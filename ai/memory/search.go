package memory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kaloyanBozhkov/linkbase/store"
)

const (
	// DefaultMinSimilarity is the inclusive similarity floor for search.
	DefaultMinSimilarity float32 = 0.2
	// DefaultSearchLimit is the default page size.
	DefaultSearchLimit = 10
	// MaxSearchLimit is the largest page size. One below the store's hard
	// limit so the has-more probe row still passes store validation.
	MaxSearchLimit = 999

	// Thresholds for the dedup helpers.
	similarFactThreshold float32 = 0.9
	duplicateThreshold   float32 = 0.95

	// factReloadLimit bounds the per-connection fact reload in connection
	// ranking.
	factReloadLimit = 1000
)

// SearchFactsRequest is the request for fact search. An empty SearchTopic
// selects list-all mode ordered by recency.
type SearchFactsRequest struct {
	SearchTopic      string
	MinSimilarity    *float32 // nil means DefaultMinSimilarity
	Limit            int      // 0 means DefaultSearchLimit
	Cursor           *store.SearchCursor
	SkipEmbeddingIDs []int32
	UserID           *int32
	ConnectionID     *int32
}

// SearchFactsResult is one page of fact search results. NextCursor is set
// only when another page exists.
type SearchFactsResult struct {
	Facts      []*store.FactWithScore
	NextCursor *store.SearchCursor
}

// SearchFacts performs semantic fact search with keyset pagination, or a
// recency-ordered listing when no topic is given. Failures are logged and
// degrade to an empty page; search never propagates errors to the caller.
func (e *Engine) SearchFacts(ctx context.Context, req *SearchFactsRequest) *SearchFactsResult {
	start := time.Now()
	defer func() { e.exporter.RecordSearch("facts", time.Since(start)) }()

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	minSimilarity := DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	opts := &store.FactSearchOptions{
		FeatureTag:       store.FeatureFact,
		UserID:           req.UserID,
		ConnectionID:     req.ConnectionID,
		MinSimilarity:    minSimilarity,
		Limit:            limit + 1, // one extra row decides whether another page exists
		Cursor:           req.Cursor,
		SkipEmbeddingIDs: req.SkipEmbeddingIDs,
	}

	topic := strings.TrimSpace(req.SearchTopic)
	if topic != "" {
		cv, err := e.cache.GetEmbedding(ctx, topic, store.FeatureFact)
		if err != nil {
			slog.Error("fact search degraded to empty result", "error", err)
			return &SearchFactsResult{Facts: []*store.FactWithScore{}}
		}
		opts.Vector = cv.Embedding
	}

	rows, err := e.store.SearchFacts(ctx, opts)
	if err != nil {
		slog.Error("fact search degraded to empty result", "error", err)
		return &SearchFactsResult{Facts: []*store.FactWithScore{}}
	}

	result := &SearchFactsResult{Facts: rows}
	if len(rows) > limit {
		// Drop the extra row; the last kept row's keys seed the next page.
		result.Facts = rows[:limit]
		last := result.Facts[limit-1]
		result.NextCursor = &store.SearchCursor{
			LastFactID: last.Fact.ID,
			Similarity: last.Similarity,
		}
	}
	return result
}

// SearchConnectionsRequest is the request for ranking connections by their
// best-matching fact.
type SearchConnectionsRequest struct {
	SearchTopic   string
	MinSimilarity *float32
	Limit         int
	Offset        int
	UserID        *int32
}

// SearchConnectionsResult is the ranked connection list.
type SearchConnectionsResult struct {
	Connections []*store.ConnectionWithScore
}

// SearchConnectionsByFact ranks connections, not facts: each connection is
// scored by its single best-matching fact, and offset/limit page over
// connections. Each matched connection's full fact list is reloaded and
// re-sorted by similarity for display. Failures degrade to an empty result.
func (e *Engine) SearchConnectionsByFact(ctx context.Context, req *SearchConnectionsRequest) *SearchConnectionsResult {
	start := time.Now()
	defer func() { e.exporter.RecordSearch("connections", time.Since(start)) }()

	empty := &SearchConnectionsResult{Connections: []*store.ConnectionWithScore{}}

	topic := strings.TrimSpace(req.SearchTopic)
	if topic == "" {
		slog.Warn("connection search called without a topic")
		return empty
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	minSimilarity := DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}

	cv, err := e.cache.GetEmbedding(ctx, topic, store.FeatureFact)
	if err != nil {
		slog.Error("connection search degraded to empty result", "error", err)
		return empty
	}

	ranked, err := e.store.SearchConnectionsByFact(ctx, &store.ConnectionSearchOptions{
		Vector:        cv.Embedding,
		FeatureTag:    store.FeatureFact,
		UserID:        req.UserID,
		MinSimilarity: minSimilarity,
		Limit:         limit,
		Offset:        req.Offset,
	})
	if err != nil {
		slog.Error("connection search degraded to empty result", "error", err)
		return empty
	}

	// Reload each matched connection's facts ranked by similarity so the
	// caller can display them in relevance order.
	for _, c := range ranked {
		connID := c.Connection.ID
		facts, err := e.store.SearchFacts(ctx, &store.FactSearchOptions{
			Vector:        cv.Embedding,
			FeatureTag:    store.FeatureFact,
			ConnectionID:  &connID,
			MinSimilarity: -1, // full fact list, only the ordering matters here
			Limit:         factReloadLimit,
		})
		if err != nil {
			slog.Error("failed to reload facts for ranked connection", "connection_id", connID, "error", err)
			continue
		}
		c.Facts = facts
	}

	return &SearchConnectionsResult{Connections: ranked}
}

// FindSimilarFacts returns stored facts highly similar to the given text,
// used for near-duplicate detection.
func (e *Engine) FindSimilarFacts(ctx context.Context, connectionID int32, text string, limit int) []*store.FactWithScore {
	threshold := similarFactThreshold
	result := e.SearchFacts(ctx, &SearchFactsRequest{
		SearchTopic:   text,
		MinSimilarity: &threshold,
		Limit:         limit,
		ConnectionID:  &connectionID,
	})
	return result.Facts
}

// FactExists reports whether the connection already has a fact nearly
// identical to the given text.
func (e *Engine) FactExists(ctx context.Context, connectionID int32, text string) bool {
	threshold := duplicateThreshold
	result := e.SearchFacts(ctx, &SearchFactsRequest{
		SearchTopic:   text,
		MinSimilarity: &threshold,
		Limit:         1,
		ConnectionID:  &connectionID,
	})
	return len(result.Facts) > 0
}

// AddFactIfNew adds the fact unless a nearly identical one already exists.
// The existence check and the insert are not transactional; concurrent calls
// can both pass the check and insert near-duplicates.
func (e *Engine) AddFactIfNew(ctx context.Context, connectionID int32, text string) (*store.Fact, bool, error) {
	threshold := duplicateThreshold
	result := e.SearchFacts(ctx, &SearchFactsRequest{
		SearchTopic:   text,
		MinSimilarity: &threshold,
		Limit:         1,
		ConnectionID:  &connectionID,
	})
	if len(result.Facts) > 0 {
		return result.Facts[0].Fact, false, nil
	}

	fact, err := e.AddFact(ctx, connectionID, text)
	if err != nil {
		return nil, false, err
	}
	return fact, true, nil
}
