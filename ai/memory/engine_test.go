package memory

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaloyanBozhkov/linkbase/store"
)

func factTexts(facts []*store.Fact) []string {
	texts := make([]string, 0, len(facts))
	for _, f := range facts {
		texts = append(texts, f.Text)
	}
	return texts
}

func TestAddFact(t *testing.T) {
	ctx := context.Background()
	engine, fs, fe := newTestEngine()
	conn := fs.addConnection(1, "alice")

	fact, err := engine.AddFact(ctx, conn.ID, "  likes coffee  ")
	require.NoError(t, err)
	assert.Equal(t, "likes coffee", fact.Text)
	assert.Equal(t, conn.ID, fact.ConnectionID)
	assert.NotZero(t, fact.EmbeddingID)
	assert.Equal(t, []string{"likes coffee"}, fe.calls)
}

func TestAddFactEmptyText(t *testing.T) {
	ctx := context.Background()
	engine, fs, fe := newTestEngine()
	conn := fs.addConnection(1, "alice")

	_, err := engine.AddFact(ctx, conn.ID, "   ")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, fe.calls)
	assert.Empty(t, fs.facts)
}

func TestAddFactProviderFailure(t *testing.T) {
	ctx := context.Background()
	engine, fs, fe := newTestEngine()
	conn := fs.addConnection(1, "alice")
	fe.err = errors.New("provider down")

	_, err := engine.AddFact(ctx, conn.ID, "likes coffee")
	assert.ErrorIs(t, err, ErrEmbeddingProvider)
	// No fact row is written when embedding resolution fails.
	assert.Empty(t, fs.facts)
}

func TestAddFactsEmptyShortCircuit(t *testing.T) {
	ctx := context.Background()
	engine, fs, fe := newTestEngine()
	conn := fs.addConnection(1, "alice")

	facts, err := engine.AddFacts(ctx, conn.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, facts)
	assert.Empty(t, fe.calls)
	assert.Zero(t, fs.upsertCalls)
}

func TestAddFactsSharedEmbedding(t *testing.T) {
	ctx := context.Background()
	engine, fs, fe := newTestEngine()
	conn := fs.addConnection(1, "alice")

	facts, err := engine.AddFacts(ctx, conn.ID, []string{"likes coffee", "likes coffee "})
	require.NoError(t, err)
	require.Len(t, facts, 2)

	// Identical trimmed text costs one provider call and one cache row.
	assert.Equal(t, []string{"likes coffee"}, fe.calls)
	assert.Equal(t, facts[0].EmbeddingID, facts[1].EmbeddingID)
	assert.NotEqual(t, facts[0].ID, facts[1].ID)
}

func TestUpdateFact(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	fact, err := engine.AddFact(ctx, conn.ID, "works at Acme")
	require.NoError(t, err)
	originalEmbeddingID := fact.EmbeddingID

	updated, err := engine.UpdateFact(ctx, conn.ID, fact.ID, "works at Initech")
	require.NoError(t, err)
	assert.Equal(t, fact.ID, updated.ID)
	assert.Equal(t, "works at Initech", updated.Text)
	assert.NotEqual(t, originalEmbeddingID, updated.EmbeddingID)
}

func TestUpdateFactNotFound(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	_, err := engine.UpdateFact(ctx, conn.ID, 999, "new text")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateFactScopedByConnection(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	alice := fs.addConnection(1, "alice")
	bob := fs.addConnection(1, "bob")

	fact, err := engine.AddFact(ctx, alice.ID, "likes chess")
	require.NoError(t, err)

	_, err = engine.UpdateFact(ctx, bob.ID, fact.ID, "likes checkers")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteFact(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	fact, err := engine.AddFact(ctx, conn.ID, "likes coffee")
	require.NoError(t, err)
	embeddings := len(fs.embeddings)

	require.NoError(t, engine.DeleteFact(ctx, conn.ID, fact.ID))
	assert.Empty(t, fs.facts)
	// The cached embedding outlives the fact.
	assert.Len(t, fs.embeddings, embeddings)

	assert.ErrorIs(t, engine.DeleteFact(ctx, conn.ID, fact.ID), ErrNotFound)
}

func TestDeleteAllFacts(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	alice := fs.addConnection(1, "alice")
	bob := fs.addConnection(1, "bob")

	_, err := engine.AddFacts(ctx, alice.ID, []string{"likes coffee", "plays chess"})
	require.NoError(t, err)
	_, err = engine.AddFact(ctx, bob.ID, "rides horses")
	require.NoError(t, err)

	require.NoError(t, engine.DeleteAllFacts(ctx, alice.ID))
	require.Len(t, fs.facts, 1)
	assert.Equal(t, bob.ID, fs.facts[0].ConnectionID)
}

func TestUpsertFactsReconciliation(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	initial, err := engine.AddFacts(ctx, conn.ID, []string{"likes coffee", "works at Acme"})
	require.NoError(t, err)
	keptID := initial[0].ID

	result, err := engine.UpsertFacts(ctx, conn.ID, []string{"likes coffee", "plays chess"}, DefaultUpsertOptions())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"likes coffee", "plays chess"}, factTexts(result))
	assert.ElementsMatch(t, []string{"likes coffee", "plays chess"}, factTexts(fs.facts))

	// The matching fact is kept in place, not replaced.
	for _, fact := range fs.facts {
		if fact.Text == "likes coffee" {
			assert.Equal(t, keptID, fact.ID)
		}
	}
}

func TestUpsertFactsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")
	desired := []string{"likes coffee", "plays chess"}

	first, err := engine.UpsertFacts(ctx, conn.ID, desired, DefaultUpsertOptions())
	require.NoError(t, err)

	second, err := engine.UpsertFacts(ctx, conn.ID, desired, DefaultUpsertOptions())
	require.NoError(t, err)

	assert.ElementsMatch(t, factTexts(first), factTexts(second))
	assert.Len(t, fs.facts, 2)

	ids := func(facts []*store.Fact) []int32 {
		out := make([]int32, 0, len(facts))
		for _, f := range facts {
			out = append(out, f.ID)
		}
		return out
	}
	assert.ElementsMatch(t, ids(first), ids(second))
}

func TestUpsertFactsWithoutDelete(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	_, err := engine.AddFacts(ctx, conn.ID, []string{"works at Acme"})
	require.NoError(t, err)

	_, err = engine.UpsertFacts(ctx, conn.ID, []string{"plays chess"}, UpsertOptions{WithDelete: false})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"works at Acme", "plays chess"}, factTexts(fs.facts))
}

func TestUpsertFactsDedupsDesiredTexts(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	result, err := engine.UpsertFacts(ctx, conn.ID, []string{"likes coffee", " likes coffee"}, DefaultUpsertOptions())
	require.NoError(t, err)
	assert.Len(t, result, 1)
	assert.Len(t, fs.facts, 1)
}

func TestUpsertFactsEmptyTextRejected(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")

	_, err := engine.UpsertFacts(ctx, conn.ID, []string{"likes coffee", ""}, DefaultUpsertOptions())
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, fs.facts)
}

func TestUpsertFactsPartialFailure(t *testing.T) {
	ctx := context.Background()
	engine, fs, _ := newTestEngine()
	conn := fs.addConnection(1, "alice")
	fs.failCreateOnText = "plays chess"

	_, err := engine.UpsertFacts(ctx, conn.ID, []string{"likes coffee", "plays chess"}, DefaultUpsertOptions())
	require.Error(t, err)

	var partial *PartialReconciliationError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, PhaseAdd, partial.Phase)
	// The first add committed before the second one failed.
	assert.Equal(t, []string{"likes coffee"}, factTexts(partial.Completed))
	assert.Equal(t, []string{"likes coffee"}, factTexts(fs.facts))
}
