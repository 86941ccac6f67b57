package memory

import (
	"context"
	"database/sql"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// fakeEmbedder records every provider call and serves vectors from a fixed
// table, falling back to a constant vector for unknown texts.
type fakeEmbedder struct {
	vectors map[string][]float32
	calls   []string
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls = append(f.calls, text)
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0}, nil
}

// fakeStore is an in-memory store implementing both EmbeddingStore and
// FactStore with the same filtering, ordering and cursor semantics as the
// database drivers.
type fakeStore struct {
	embeddings  []*store.CachedEmbedding
	facts       []*store.Fact
	connections []*store.Connection
	nextID      int32
	clock       int64

	upsertCalls int

	searchErr        error
	factsErr         error
	failCreateOnText string
}

func (f *fakeStore) tick() int64 {
	f.clock++
	return f.clock
}

func (f *fakeStore) id() int32 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addConnection(userID int32, name string) *store.Connection {
	c := &store.Connection{ID: f.id(), UID: name, Name: name, UserID: userID, CreatedTs: f.tick()}
	f.connections = append(f.connections, c)
	return c
}

func (f *fakeStore) connectionByID(id int32) *store.Connection {
	for _, c := range f.connections {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeStore) UpsertCachedEmbedding(_ context.Context, upsert *store.UpsertCachedEmbedding) (*store.CachedEmbedding, error) {
	if err := upsert.Validate(); err != nil {
		return nil, err
	}
	f.upsertCalls++
	for _, e := range f.embeddings {
		if e.Text == upsert.Text {
			for _, tag := range upsert.FeatureTags {
				if !e.HasFeatureTag(tag) {
					e.FeatureTags = append(e.FeatureTags, tag)
				}
			}
			e.UpdatedTs = f.tick()
			return e, nil
		}
	}
	e := &store.CachedEmbedding{
		ID:          f.id(),
		Text:        upsert.Text,
		Embedding:   append([]float32(nil), upsert.Embedding...),
		FeatureTags: append([]store.FeatureType(nil), upsert.FeatureTags...),
		CreatedTs:   f.tick(),
	}
	e.UpdatedTs = e.CreatedTs
	f.embeddings = append(f.embeddings, e)
	return e, nil
}

func (f *fakeStore) ListCachedEmbeddings(_ context.Context, find *store.FindCachedEmbedding) ([]*store.CachedEmbedding, error) {
	list := []*store.CachedEmbedding{}
	for _, e := range f.embeddings {
		if find.ID != nil && e.ID != *find.ID {
			continue
		}
		if find.Text != nil && e.Text != *find.Text {
			continue
		}
		if len(find.Texts) > 0 {
			match := false
			for _, t := range find.Texts {
				if e.Text == t {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if find.FeatureTag != nil && !e.HasFeatureTag(*find.FeatureTag) {
			continue
		}
		list = append(list, e)
	}
	return list, nil
}

func (f *fakeStore) embeddingByID(id int32) *store.CachedEmbedding {
	for _, e := range f.embeddings {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (f *fakeStore) GetConnection(_ context.Context, find *store.FindConnection) (*store.Connection, error) {
	for _, c := range f.connections {
		if find.ID != nil && c.ID != *find.ID {
			continue
		}
		if find.UID != nil && c.UID != *find.UID {
			continue
		}
		if find.UserID != nil && c.UserID != *find.UserID {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (f *fakeStore) CreateFact(_ context.Context, create *store.Fact) (*store.Fact, error) {
	if create.Text == f.failCreateOnText && f.failCreateOnText != "" {
		return nil, errors.New("create fact failed")
	}
	fact := &store.Fact{
		ID:           f.id(),
		Text:         create.Text,
		ConnectionID: create.ConnectionID,
		EmbeddingID:  create.EmbeddingID,
		CreatedTs:    f.tick(),
	}
	fact.UpdatedTs = fact.CreatedTs
	f.facts = append(f.facts, fact)
	return fact, nil
}

func (f *fakeStore) ListFacts(_ context.Context, find *store.FindFact) ([]*store.Fact, error) {
	if f.factsErr != nil {
		return nil, f.factsErr
	}
	list := []*store.Fact{}
	for _, fact := range f.facts {
		if find.ID != nil && fact.ID != *find.ID {
			continue
		}
		if find.ConnectionID != nil && fact.ConnectionID != *find.ConnectionID {
			continue
		}
		list = append(list, fact)
	}
	return list, nil
}

func (f *fakeStore) UpdateFact(_ context.Context, update *store.UpdateFact) (*store.Fact, error) {
	for _, fact := range f.facts {
		if fact.ID != update.ID || fact.ConnectionID != update.ConnectionID {
			continue
		}
		if update.Text != nil {
			fact.Text = *update.Text
		}
		if update.EmbeddingID != nil {
			fact.EmbeddingID = *update.EmbeddingID
		}
		fact.UpdatedTs = f.tick()
		return fact, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) DeleteFacts(_ context.Context, delete *store.DeleteFact) (int64, error) {
	kept := f.facts[:0]
	var deleted int64
	for _, fact := range f.facts {
		if fact.ConnectionID == delete.ConnectionID && (delete.ID == nil || fact.ID == *delete.ID) {
			deleted++
			continue
		}
		kept = append(kept, fact)
	}
	f.facts = kept
	return deleted, nil
}

func fakeCosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func (f *fakeStore) SearchFacts(_ context.Context, opts *store.FactSearchOptions) ([]*store.FactWithScore, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	searching := len(opts.Vector) > 0
	results := []*store.FactWithScore{}
	for _, fact := range f.facts {
		if opts.ConnectionID != nil && fact.ConnectionID != *opts.ConnectionID {
			continue
		}
		if opts.UserID != nil {
			c := f.connectionByID(fact.ConnectionID)
			if c == nil || c.UserID != *opts.UserID {
				continue
			}
		}
		skip := false
		for _, id := range opts.SkipEmbeddingIDs {
			if fact.EmbeddingID == id {
				skip = true
				break
			}
		}
		if skip {
			continue
		}

		result := &store.FactWithScore{Fact: fact}
		if searching {
			e := f.embeddingByID(fact.EmbeddingID)
			if e == nil || !e.HasFeatureTag(opts.FeatureTag) {
				continue
			}
			sim := fakeCosine(opts.Vector, e.Embedding)
			if sim < opts.MinSimilarity {
				continue
			}
			result.Similarity = &sim
		}

		if opts.Cursor != nil {
			if searching && opts.Cursor.Similarity != nil {
				cs := *opts.Cursor.Similarity
				sim := *result.Similarity
				if !(sim < cs || (sim == cs && fact.ID < opts.Cursor.LastFactID)) {
					continue
				}
			} else if fact.ID >= opts.Cursor.LastFactID {
				continue
			}
		}
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if searching && *results[i].Similarity != *results[j].Similarity {
			return *results[i].Similarity > *results[j].Similarity
		}
		if results[i].Fact.CreatedTs != results[j].Fact.CreatedTs {
			return results[i].Fact.CreatedTs > results[j].Fact.CreatedTs
		}
		return results[i].Fact.ID > results[j].Fact.ID
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

func (f *fakeStore) SearchConnectionsByFact(_ context.Context, opts *store.ConnectionSearchOptions) ([]*store.ConnectionWithScore, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	best := map[int32]*store.ConnectionWithScore{}
	for _, fact := range f.facts {
		c := f.connectionByID(fact.ConnectionID)
		if c == nil {
			continue
		}
		if opts.UserID != nil && c.UserID != *opts.UserID {
			continue
		}
		e := f.embeddingByID(fact.EmbeddingID)
		if e == nil || !e.HasFeatureTag(opts.FeatureTag) {
			continue
		}
		sim := fakeCosine(opts.Vector, e.Embedding)
		if sim < opts.MinSimilarity {
			continue
		}
		if cur, ok := best[c.ID]; !ok || sim > cur.Similarity {
			best[c.ID] = &store.ConnectionWithScore{Connection: c, TopFact: fact, Similarity: sim}
		}
	}

	ranked := make([]*store.ConnectionWithScore, 0, len(best))
	for _, c := range best {
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Similarity != ranked[j].Similarity {
			return ranked[i].Similarity > ranked[j].Similarity
		}
		return ranked[i].Connection.ID > ranked[j].Connection.ID
	})

	if opts.Offset >= len(ranked) {
		return []*store.ConnectionWithScore{}, nil
	}
	ranked = ranked[opts.Offset:]
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}
	return ranked, nil
}

func newTestEngine() (*Engine, *fakeStore, *fakeEmbedder) {
	fs := &fakeStore{}
	fe := &fakeEmbedder{vectors: map[string][]float32{}}
	cache := NewEmbeddingCache(fs, fe, nil)
	return NewEngine(fs, cache, nil), fs, fe
}
