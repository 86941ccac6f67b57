package store

import (
	"context"

	"github.com/pkg/errors"
)

// Fact is a short user-authored text note attached to a connection. It holds a
// non-owning reference to a CachedEmbedding; many facts may point at the same
// cached vector.
type Fact struct {
	ID           int32
	Text         string
	ConnectionID int32
	EmbeddingID  int32
	CreatedTs    int64
	UpdatedTs    int64
}

// FindFact is the find condition for facts.
type FindFact struct {
	ID            *int32
	ConnectionID  *int32
	ConnectionIDs []int32
	UserID        *int32
}

// UpdateFact is the update request for a fact. Scoped by connection so a fact
// can never be updated through a foreign connection id.
type UpdateFact struct {
	ID           int32
	ConnectionID int32
	Text         *string
	EmbeddingID  *int32
}

// DeleteFact is the delete request for facts. A nil ID deletes all facts of
// the connection. Always scoped by connection id.
type DeleteFact struct {
	ID           *int32
	ConnectionID int32
}

// SearchCursor is the keyset pagination token for fact search. Similarity is
// set only when the page was produced by a similarity search.
type SearchCursor struct {
	LastFactID int32    `json:"lastFactId"`
	Similarity *float32 `json:"similarity,omitempty"`
}

// FactWithScore is a fact search result. Similarity is nil in list-all mode.
type FactWithScore struct {
	Fact       *Fact
	Similarity *float32
}

// FactSearchOptions represents the options for fact similarity search.
// A nil Vector selects list-all mode ordered by recency.
type FactSearchOptions struct {
	Vector           []float32
	FeatureTag       FeatureType
	UserID           *int32
	ConnectionID     *int32
	ConnectionIDs    []int32
	MinSimilarity    float32
	Limit            int
	Cursor           *SearchCursor
	SkipEmbeddingIDs []int32
}

// Validate validates the FactSearchOptions.
func (o *FactSearchOptions) Validate() error {
	if o.Limit < 0 {
		return errors.Errorf("limit cannot be negative: %d", o.Limit)
	}
	if o.Limit == 0 {
		o.Limit = 10 // Default limit
	}
	if o.Limit > 1000 {
		return errors.Errorf("limit too large (max 1000): %d", o.Limit)
	}
	if o.Vector != nil && o.FeatureTag == "" {
		return errors.New("feature tag is required for similarity search")
	}
	return nil
}

// ConnectionWithScore is a connection ranked by its single best-matching fact.
type ConnectionWithScore struct {
	Connection *Connection
	TopFact    *Fact
	Similarity float32
	Facts      []*FactWithScore // full fact list, re-sorted by similarity
}

// ConnectionSearchOptions represents the options for ranking connections by
// their best-matching fact.
type ConnectionSearchOptions struct {
	Vector        []float32
	FeatureTag    FeatureType
	UserID        *int32
	MinSimilarity float32
	Limit         int
	Offset        int
}

// Validate validates the ConnectionSearchOptions.
func (o *ConnectionSearchOptions) Validate() error {
	if len(o.Vector) == 0 {
		return errors.New("vector cannot be empty")
	}
	if o.FeatureTag == "" {
		return errors.New("feature tag is required")
	}
	if o.Limit < 0 || o.Offset < 0 {
		return errors.Errorf("limit and offset cannot be negative: %d/%d", o.Limit, o.Offset)
	}
	if o.Limit == 0 {
		o.Limit = 10
	}
	return nil
}

// CreateFact creates a new fact.
func (s *Store) CreateFact(ctx context.Context, create *Fact) (*Fact, error) {
	if create.Text == "" {
		return nil, errors.New("fact text cannot be empty")
	}
	if create.EmbeddingID == 0 {
		return nil, errors.New("fact requires a cached embedding reference")
	}
	return s.driver.CreateFact(ctx, create)
}

// ListFacts lists facts matching the find condition.
func (s *Store) ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error) {
	return s.driver.ListFacts(ctx, find)
}

// GetFact gets a single fact matching the find condition, or nil.
func (s *Store) GetFact(ctx context.Context, find *FindFact) (*Fact, error) {
	list, err := s.driver.ListFacts(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateFact updates a fact.
func (s *Store) UpdateFact(ctx context.Context, update *UpdateFact) (*Fact, error) {
	return s.driver.UpdateFact(ctx, update)
}

// DeleteFacts deletes facts scoped by connection and returns the number of
// deleted rows. Referenced cached embeddings are never deleted.
func (s *Store) DeleteFacts(ctx context.Context, delete *DeleteFact) (int64, error) {
	if delete.ConnectionID == 0 {
		return 0, errors.New("connection id is required")
	}
	return s.driver.DeleteFacts(ctx, delete)
}

// SearchFacts performs fact similarity search, or a recency-ordered listing
// when no vector is given.
func (s *Store) SearchFacts(ctx context.Context, opts *FactSearchOptions) ([]*FactWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.SearchFacts(ctx, opts)
}

// SearchConnectionsByFact ranks connections by their top-matching fact.
func (s *Store) SearchConnectionsByFact(ctx context.Context, opts *ConnectionSearchOptions) ([]*ConnectionWithScore, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return s.driver.SearchConnectionsByFact(ctx, opts)
}
