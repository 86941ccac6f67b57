package memory

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloyanBozhkov/linkbase/store"
)

func TestGetEmbeddingMissThenHit(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	fe := &fakeEmbedder{vectors: map[string][]float32{"likes hiking": {0.5, 0.5}}}
	cache := NewEmbeddingCache(fs, fe, nil)

	first, err := cache.GetEmbedding(ctx, "likes hiking", store.FeatureFact)
	require.NoError(t, err)
	assert.True(t, first.Fresh)
	assert.Equal(t, []float32{0.5, 0.5}, first.Embedding)
	assert.Equal(t, []string{"likes hiking"}, fe.calls)

	second, err := cache.GetEmbedding(ctx, "likes hiking", store.FeatureFact)
	require.NoError(t, err)
	assert.False(t, second.Fresh)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Embedding, second.Embedding)
	// The second resolution is served from the cache.
	assert.Len(t, fe.calls, 1)
}

func TestGetEmbeddingExtendsFeatureTags(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	fe := &fakeEmbedder{vectors: map[string][]float32{}}
	cache := NewEmbeddingCache(fs, fe, nil)

	_, err := fs.UpsertCachedEmbedding(ctx, &store.UpsertCachedEmbedding{
		Text:        "team offsite",
		Embedding:   []float32{1, 0},
		FeatureTags: []store.FeatureType{store.FeatureQueryExpansion},
	})
	require.NoError(t, err)

	cv, err := cache.GetEmbedding(ctx, "team offsite", store.FeatureFact)
	require.NoError(t, err)
	assert.False(t, cv.Fresh)
	// The tag set is extended without calling the provider.
	assert.Empty(t, fe.calls)

	row, err := fs.ListCachedEmbeddings(ctx, &store.FindCachedEmbedding{ID: &cv.ID})
	require.NoError(t, err)
	require.Len(t, row, 1)
	assert.True(t, row[0].HasFeatureTag(store.FeatureFact))
	assert.True(t, row[0].HasFeatureTag(store.FeatureQueryExpansion))
}

func TestGetEmbeddingProviderFailure(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	fe := &fakeEmbedder{err: errors.New("provider down")}
	cache := NewEmbeddingCache(fs, fe, nil)

	_, err := cache.GetEmbedding(ctx, "some text", store.FeatureFact)
	require.Error(t, err)
	// A failed call leaves no cache row behind.
	assert.Empty(t, fs.embeddings)
}

func TestGetManyEmbeddingsPreservesOrder(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	fe := &fakeEmbedder{vectors: map[string][]float32{}}
	cache := NewEmbeddingCache(fs, fe, nil)

	// Pre-cache the middle text so the batch mixes hits and misses.
	_, err := cache.GetEmbedding(ctx, "b", store.FeatureFact)
	require.NoError(t, err)
	fe.calls = nil

	results, err := cache.GetManyEmbeddings(ctx, []string{"a", "b", "a", "c"}, store.FeatureFact)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "a", results[0].Text)
	assert.Equal(t, "b", results[1].Text)
	assert.Equal(t, "a", results[2].Text)
	assert.Equal(t, "c", results[3].Text)

	// Duplicates resolve to the same cache row and cost one provider call.
	assert.Equal(t, results[0].ID, results[2].ID)
	assert.Equal(t, []string{"a", "c"}, fe.calls)

	assert.True(t, results[0].Fresh)
	assert.False(t, results[1].Fresh)
	assert.True(t, results[3].Fresh)
}

func TestFlightKeyScopedByFeature(t *testing.T) {
	// Concurrent misses for the same text must only collapse within one
	// feature, so each feature's upsert runs and tags the row.
	assert.NotEqual(t,
		flightKey("team offsite", store.FeatureFact),
		flightKey("team offsite", store.FeatureQueryExpansion))
	assert.Equal(t,
		flightKey("team offsite", store.FeatureFact),
		flightKey("team offsite", store.FeatureFact))
	// The separator keeps feature/text concatenations from colliding.
	assert.NotEqual(t,
		flightKey("Ateam", store.FeatureFact),
		flightKey("team", store.FeatureType(string(store.FeatureFact)+"A")))
}

func TestGetManyEmbeddingsEmptyInput(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStore{}
	fe := &fakeEmbedder{}
	cache := NewEmbeddingCache(fs, fe, nil)

	results, err := cache.GetManyEmbeddings(ctx, nil, store.FeatureFact)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, fe.calls)
}
