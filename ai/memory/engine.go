package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kaloyanBozhkov/linkbase/ai/metrics"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// FactStore is the slice of the store the engine needs. *store.Store
// satisfies it.
type FactStore interface {
	GetConnection(ctx context.Context, find *store.FindConnection) (*store.Connection, error)
	CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error)
	ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error)
	UpdateFact(ctx context.Context, update *store.UpdateFact) (*store.Fact, error)
	DeleteFacts(ctx context.Context, delete *store.DeleteFact) (int64, error)
	SearchFacts(ctx context.Context, opts *store.FactSearchOptions) ([]*store.FactWithScore, error)
	SearchConnectionsByFact(ctx context.Context, opts *store.ConnectionSearchOptions) ([]*store.ConnectionWithScore, error)
}

// Engine orchestrates the embedding cache and the fact store. Mutations fail
// loudly; search operations log failures and degrade to empty results.
type Engine struct {
	store    FactStore
	cache    *EmbeddingCache
	exporter *metrics.Exporter
}

// NewEngine creates a new Engine. The exporter may be nil.
func NewEngine(store FactStore, cache *EmbeddingCache, exporter *metrics.Exporter) *Engine {
	return &Engine{
		store:    store,
		cache:    cache,
		exporter: exporter,
	}
}

// AddFact trims the text, resolves or creates the cached embedding and inserts
// the fact. The fact row is only inserted after embedding resolution succeeds,
// so a provider failure leaves no partial state.
func (e *Engine) AddFact(ctx context.Context, connectionID int32, text string) (*store.Fact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: fact text cannot be empty", ErrValidation)
	}

	cv, err := e.cache.GetEmbedding(ctx, text, store.FeatureFact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingProvider, err)
	}

	fact, err := e.store.CreateFact(ctx, &store.Fact{
		Text:         text,
		ConnectionID: connectionID,
		EmbeddingID:  cv.ID,
	})
	if err != nil {
		slog.Error("failed to create fact", "connection_id", connectionID, "error", err)
		return nil, fmt.Errorf("failed to save fact")
	}
	return fact, nil
}

// AddFacts adds a batch of facts. Empty input short-circuits to an empty
// result without any provider call. Items are processed sequentially; earlier
// successes are not rolled back if a later item fails.
func (e *Engine) AddFacts(ctx context.Context, connectionID int32, texts []string) ([]*store.Fact, error) {
	if len(texts) == 0 {
		return []*store.Fact{}, nil
	}

	trimmed := make([]string, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: fact text cannot be empty", ErrValidation)
		}
		trimmed = append(trimmed, text)
	}

	vectors, err := e.cache.GetManyEmbeddings(ctx, trimmed, store.FeatureFact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingProvider, err)
	}

	facts := make([]*store.Fact, 0, len(trimmed))
	for i, text := range trimmed {
		fact, err := e.store.CreateFact(ctx, &store.Fact{
			Text:         text,
			ConnectionID: connectionID,
			EmbeddingID:  vectors[i].ID,
		})
		if err != nil {
			slog.Error("failed to create fact in batch", "connection_id", connectionID, "index", i, "error", err)
			return facts, fmt.Errorf("failed to save facts")
		}
		facts = append(facts, fact)
	}
	return facts, nil
}

// UpdateFact always re-embeds the new text and repoints the fact's embedding
// reference, even when the text is unchanged; the cache absorbs repeated
// identical text across calls.
func (e *Engine) UpdateFact(ctx context.Context, connectionID, factID int32, newText string) (*store.Fact, error) {
	newText = strings.TrimSpace(newText)
	if newText == "" {
		return nil, fmt.Errorf("%w: fact text cannot be empty", ErrValidation)
	}

	cv, err := e.cache.GetEmbedding(ctx, newText, store.FeatureFact)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingProvider, err)
	}

	fact, err := e.store.UpdateFact(ctx, &store.UpdateFact{
		ID:           factID,
		ConnectionID: connectionID,
		Text:         &newText,
		EmbeddingID:  &cv.ID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: fact %d", ErrNotFound, factID)
		}
		slog.Error("failed to update fact", "fact_id", factID, "error", err)
		return nil, fmt.Errorf("failed to update fact")
	}
	return fact, nil
}

// DeleteFact hard-deletes one fact scoped by connection id, so a fact can
// never be deleted through a foreign connection. The referenced cached
// embedding is never deleted.
func (e *Engine) DeleteFact(ctx context.Context, connectionID, factID int32) error {
	rows, err := e.store.DeleteFacts(ctx, &store.DeleteFact{ID: &factID, ConnectionID: connectionID})
	if err != nil {
		slog.Error("failed to delete fact", "fact_id", factID, "error", err)
		return fmt.Errorf("failed to delete fact")
	}
	if rows == 0 {
		return fmt.Errorf("%w: fact %d", ErrNotFound, factID)
	}
	return nil
}

// DeleteAllFacts hard-deletes every fact of the connection.
func (e *Engine) DeleteAllFacts(ctx context.Context, connectionID int32) error {
	if _, err := e.store.DeleteFacts(ctx, &store.DeleteFact{ConnectionID: connectionID}); err != nil {
		slog.Error("failed to delete facts", "connection_id", connectionID, "error", err)
		return fmt.Errorf("failed to delete facts")
	}
	return nil
}

// UpsertOptions configures fact reconciliation.
type UpsertOptions struct {
	// WithDelete removes existing facts absent from the desired set.
	WithDelete bool

	// SkipReembedUnchanged skips the re-embedding round trip for kept facts
	// whose text is byte-identical. Off by default: re-embedding kept facts
	// refreshes their cache reference, e.g. after an embedding model change.
	SkipReembedUnchanged bool
}

// DefaultUpsertOptions returns the default reconciliation options.
func DefaultUpsertOptions() UpsertOptions {
	return UpsertOptions{WithDelete: true}
}

// UpsertFacts reconciles the connection's stored facts against a desired list
// of fact texts: texts without a stored fact are added, texts matching a
// stored fact exactly are kept (and re-embedded unless configured otherwise),
// and stored facts absent from the desired list are deleted when WithDelete is
// set. The three phases run in order (add, update, delete) without a spanning
// transaction; a mid-sequence failure returns a PartialReconciliationError
// listing the facts already committed.
func (e *Engine) UpsertFacts(ctx context.Context, connectionID int32, texts []string, opts UpsertOptions) ([]*store.Fact, error) {
	desired := make([]string, 0, len(texts))
	seen := map[string]bool{}
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("%w: fact text cannot be empty", ErrValidation)
		}
		if !seen[text] {
			seen[text] = true
			desired = append(desired, text)
		}
	}

	existing, err := e.store.ListFacts(ctx, &store.FindFact{ConnectionID: &connectionID})
	if err != nil {
		slog.Error("failed to list facts for reconciliation", "connection_id", connectionID, "error", err)
		return nil, fmt.Errorf("failed to load facts")
	}
	existingByText := make(map[string]*store.Fact, len(existing))
	for _, fact := range existing {
		if _, ok := existingByText[fact.Text]; !ok {
			existingByText[fact.Text] = fact
		}
	}

	toAdd := make([]string, 0, len(desired))
	toKeep := make([]*store.Fact, 0, len(desired))
	for _, text := range desired {
		if fact, ok := existingByText[text]; ok {
			toKeep = append(toKeep, fact)
		} else {
			toAdd = append(toAdd, text)
		}
	}
	toDelete := make([]*store.Fact, 0, len(existing))
	for _, fact := range existing {
		if !seen[fact.Text] {
			toDelete = append(toDelete, fact)
		}
	}

	added, err := e.AddFacts(ctx, connectionID, toAdd)
	if err != nil {
		return nil, &PartialReconciliationError{Phase: PhaseAdd, Completed: added, Err: err}
	}

	result := append([]*store.Fact{}, added...)
	for _, fact := range toKeep {
		if opts.SkipReembedUnchanged {
			result = append(result, fact)
			continue
		}
		updated, err := e.UpdateFact(ctx, connectionID, fact.ID, fact.Text)
		if err != nil {
			return nil, &PartialReconciliationError{Phase: PhaseUpdate, Completed: result, Err: err}
		}
		result = append(result, updated)
	}

	if opts.WithDelete {
		for _, fact := range toDelete {
			if err := e.DeleteFact(ctx, connectionID, fact.ID); err != nil {
				return nil, &PartialReconciliationError{Phase: PhaseDelete, Completed: result, Err: err}
			}
		}
	}

	return result, nil
}
