package store

import (
	"context"

	"github.com/pkg/errors"
)

// FeatureType partitions the shared embedding cache by use-case so that
// different semantic domains never contaminate each other's searches.
type FeatureType string

const (
	// FeatureFact scopes embeddings used for connection fact search.
	FeatureFact FeatureType = "FACT"
	// FeatureQueryExpansion scopes embeddings used for query expansion.
	FeatureQueryExpansion FeatureType = "QUERY_EXPANSION"
)

// CachedEmbedding represents a cached vector embedding keyed by exact text.
// Rows are shared across users and connections and are never deleted.
type CachedEmbedding struct {
	ID          int32
	Text        string
	Embedding   []float32
	FeatureTags []FeatureType
	CreatedTs   int64
	UpdatedTs   int64
}

// HasFeatureTag reports whether the embedding is scoped to the given feature.
func (e *CachedEmbedding) HasFeatureTag(tag FeatureType) bool {
	for _, t := range e.FeatureTags {
		if t == tag {
			return true
		}
	}
	return false
}

// UpsertCachedEmbedding is the atomic insert-or-fetch request for the cache.
// On text conflict the existing row wins; its feature tags are extended with
// the requested ones so the row can serve additional search domains.
type UpsertCachedEmbedding struct {
	Text        string
	Embedding   []float32
	FeatureTags []FeatureType
}

// Validate validates the UpsertCachedEmbedding.
func (u *UpsertCachedEmbedding) Validate() error {
	if u.Text == "" {
		return errors.New("text cannot be empty")
	}
	if len(u.Embedding) == 0 {
		return errors.New("embedding cannot be empty")
	}
	if len(u.FeatureTags) == 0 {
		return errors.New("at least one feature tag is required")
	}
	return nil
}

// FindCachedEmbedding is the find condition for cached embeddings.
type FindCachedEmbedding struct {
	ID         *int32
	Text       *string
	Texts      []string
	FeatureTag *FeatureType
}

// UpsertCachedEmbedding inserts a cached embedding or returns the existing row
// for the same text.
func (s *Store) UpsertCachedEmbedding(ctx context.Context, upsert *UpsertCachedEmbedding) (*CachedEmbedding, error) {
	if err := upsert.Validate(); err != nil {
		return nil, err
	}
	return s.driver.UpsertCachedEmbedding(ctx, upsert)
}

// ListCachedEmbeddings lists cached embeddings matching the find condition.
func (s *Store) ListCachedEmbeddings(ctx context.Context, find *FindCachedEmbedding) ([]*CachedEmbedding, error) {
	return s.driver.ListCachedEmbeddings(ctx, find)
}

// GetCachedEmbeddingByText gets the cached embedding for an exact text, or nil.
func (s *Store) GetCachedEmbeddingByText(ctx context.Context, text string) (*CachedEmbedding, error) {
	list, err := s.driver.ListCachedEmbeddings(ctx, &FindCachedEmbedding{Text: &text})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}
