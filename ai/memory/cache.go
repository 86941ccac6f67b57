// Package memory implements the connection memory engine: an exact-text
// embedding cache shared across features, and semantic fact search with
// keyset pagination and fact-set reconciliation on top of it.
package memory

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kaloyanBozhkov/linkbase/ai/metrics"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// Embedder generates vector embeddings. This is a local interface so tests
// can substitute the provider adapter.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingStore is the slice of the store the cache needs.
type EmbeddingStore interface {
	UpsertCachedEmbedding(ctx context.Context, upsert *store.UpsertCachedEmbedding) (*store.CachedEmbedding, error)
	ListCachedEmbeddings(ctx context.Context, find *store.FindCachedEmbedding) ([]*store.CachedEmbedding, error)
}

// CachedVector is a cache lookup result. Fresh reports whether the vector was
// computed by this call rather than served from the cache.
type CachedVector struct {
	ID        int32
	Text      string
	Embedding []float32
	Fresh     bool
}

// EmbeddingCache maps exact input text to a previously computed embedding
// vector. The cache is append-only and shared across users; the store enforces
// one row per text with an atomic insert-or-fetch, and an in-process
// singleflight group collapses concurrent misses for the same text so the
// provider is called at most once per text per process.
type EmbeddingCache struct {
	store    EmbeddingStore
	embedder Embedder
	group    singleflight.Group
	exporter *metrics.Exporter
}

// NewEmbeddingCache creates a new EmbeddingCache. The exporter may be nil.
func NewEmbeddingCache(store EmbeddingStore, embedder Embedder, exporter *metrics.Exporter) *EmbeddingCache {
	return &EmbeddingCache{
		store:    store,
		embedder: embedder,
		exporter: exporter,
	}
}

// GetEmbedding resolves the embedding for an exact text. A hit returns the
// stored vector with Fresh=false; a miss calls the provider, persists the new
// row and returns Fresh=true. A hit whose row is not yet tagged for the
// requested feature extends the tag set without a provider call.
func (c *EmbeddingCache) GetEmbedding(ctx context.Context, text string, feature store.FeatureType) (*CachedVector, error) {
	cached, err := c.store.ListCachedEmbeddings(ctx, &store.FindCachedEmbedding{Text: &text})
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		row := cached[0]
		if !row.HasFeatureTag(feature) {
			row, err = c.store.UpsertCachedEmbedding(ctx, &store.UpsertCachedEmbedding{
				Text:        row.Text,
				Embedding:   row.Embedding,
				FeatureTags: []store.FeatureType{feature},
			})
			if err != nil {
				return nil, err
			}
		}
		c.exporter.RecordCacheHit(string(feature))
		return &CachedVector{ID: row.ID, Text: row.Text, Embedding: row.Embedding, Fresh: false}, nil
	}

	c.exporter.RecordCacheMiss(string(feature))
	return c.computeAndStore(ctx, text, feature)
}

// flightKey scopes call collapsing to one feature. Keying by text alone would
// let two concurrent misses for the same text under different features share
// one upsert, leaving the loser's feature out of the row's tag set.
func flightKey(text string, feature store.FeatureType) string {
	return string(feature) + "\x00" + text
}

// computeAndStore calls the provider and persists the result. Concurrent
// callers for the same text and feature share a single provider call.
func (c *EmbeddingCache) computeAndStore(ctx context.Context, text string, feature store.FeatureType) (*CachedVector, error) {
	v, err, _ := c.group.Do(flightKey(text, feature), func() (any, error) {
		start := time.Now()
		vector, err := c.embedder.Embed(ctx, text)
		c.exporter.RecordProviderCall(time.Since(start), err)
		if err != nil {
			return nil, err
		}

		row, err := c.store.UpsertCachedEmbedding(ctx, &store.UpsertCachedEmbedding{
			Text:        text,
			Embedding:   vector,
			FeatureTags: []store.FeatureType{feature},
		})
		if err != nil {
			return nil, err
		}
		// The upsert may have lost the insert race; the returned row is the
		// surviving one either way.
		return &CachedVector{ID: row.ID, Text: row.Text, Embedding: row.Embedding, Fresh: true}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedVector), nil
}

// GetManyEmbeddings resolves embeddings for a list of texts. The result always
// preserves the input order regardless of which texts were cache hits. Misses
// are computed sequentially, one provider call per distinct text.
func (c *EmbeddingCache) GetManyEmbeddings(ctx context.Context, texts []string, feature store.FeatureType) ([]*CachedVector, error) {
	if len(texts) == 0 {
		return []*CachedVector{}, nil
	}

	distinct := make([]string, 0, len(texts))
	seen := map[string]bool{}
	for _, text := range texts {
		if !seen[text] {
			seen[text] = true
			distinct = append(distinct, text)
		}
	}

	cached, err := c.store.ListCachedEmbeddings(ctx, &store.FindCachedEmbedding{Texts: distinct})
	if err != nil {
		return nil, err
	}
	byText := make(map[string]*CachedVector, len(cached))
	for _, row := range cached {
		if !row.HasFeatureTag(feature) {
			row, err = c.store.UpsertCachedEmbedding(ctx, &store.UpsertCachedEmbedding{
				Text:        row.Text,
				Embedding:   row.Embedding,
				FeatureTags: []store.FeatureType{feature},
			})
			if err != nil {
				return nil, err
			}
		}
		byText[row.Text] = &CachedVector{ID: row.ID, Text: row.Text, Embedding: row.Embedding, Fresh: false}
		c.exporter.RecordCacheHit(string(feature))
	}

	for _, text := range distinct {
		if _, ok := byText[text]; ok {
			continue
		}
		c.exporter.RecordCacheMiss(string(feature))
		cv, err := c.computeAndStore(ctx, text, feature)
		if err != nil {
			return nil, err
		}
		byText[text] = cv
	}

	// Re-assemble in the original input order, not by cache/fresh status.
	results := make([]*CachedVector, 0, len(texts))
	for _, text := range texts {
		results = append(results, byText[text])
	}
	return results, nil
}
