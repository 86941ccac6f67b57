package sqlite

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// CreateFact creates a new fact referencing a cached embedding.
func (d *DB) CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error) {
	now := time.Now().Unix()

	stmt := `
		INSERT INTO fact (text, connection_id, embedding_id, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.Text,
		create.ConnectionID,
		create.EmbeddingID,
		now,
		now,
	).Scan(&create.ID, &create.CreatedTs, &create.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fact")
	}

	return create, nil
}

// ListFacts lists facts.
func (d *DB) ListFacts(ctx context.Context, find *store.FindFact) ([]*store.Fact, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "f.id = ?"), append(args, *find.ID)
	}
	if find.ConnectionID != nil {
		where, args = append(where, "f.connection_id = ?"), append(args, *find.ConnectionID)
	}
	if len(find.ConnectionIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(find.ConnectionIDs)), ", ")
		where = append(where, "f.connection_id IN ("+marks+")")
		for _, id := range find.ConnectionIDs {
			args = append(args, id)
		}
	}
	if find.UserID != nil {
		where, args = append(where, "c.user_id = ?"), append(args, *find.UserID)
	}

	query := `
		SELECT f.id, f.text, f.connection_id, f.embedding_id, f.created_ts, f.updated_ts
		FROM fact f
		INNER JOIN connection c ON c.id = f.connection_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY f.created_ts DESC, f.id DESC
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts")
	}
	defer rows.Close()

	list := []*store.Fact{}
	for rows.Next() {
		var fact store.Fact
		err := rows.Scan(
			&fact.ID,
			&fact.Text,
			&fact.ConnectionID,
			&fact.EmbeddingID,
			&fact.CreatedTs,
			&fact.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fact")
		}
		list = append(list, &fact)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateFact updates a fact, scoped by connection id.
func (d *DB) UpdateFact(ctx context.Context, update *store.UpdateFact) (*store.Fact, error) {
	set, args := []string{}, []any{}

	if update.Text != nil {
		set, args = append(set, "text = ?"), append(args, *update.Text)
	}
	if update.EmbeddingID != nil {
		set, args = append(set, "embedding_id = ?"), append(args, *update.EmbeddingID)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	set, args = append(set, "updated_ts = ?"), append(args, time.Now().Unix())
	args = append(args, update.ID, update.ConnectionID)

	stmt := `
		UPDATE fact
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ? AND connection_id = ?
		RETURNING id, text, connection_id, embedding_id, created_ts, updated_ts
	`

	var fact store.Fact
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&fact.ID,
		&fact.Text,
		&fact.ConnectionID,
		&fact.EmbeddingID,
		&fact.CreatedTs,
		&fact.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update fact")
	}

	return &fact, nil
}

// DeleteFacts hard-deletes facts scoped by connection id.
func (d *DB) DeleteFacts(ctx context.Context, delete *store.DeleteFact) (int64, error) {
	where, args := []string{"connection_id = ?"}, []any{delete.ConnectionID}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}

	stmt := `DELETE FROM fact WHERE ` + strings.Join(where, " AND ")
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete facts")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return rows, nil
}

// scoredFact is a candidate row with its decoded similarity.
type scoredFact struct {
	fact       *store.Fact
	similarity float32
}

// loadScoredFacts loads candidate facts with their embeddings and computes
// cosine similarity in the application layer.
func (d *DB) loadScoredFacts(ctx context.Context, vector []float32, featureTag store.FeatureType, userID *int32, connectionIDs []int32, skipEmbeddingIDs []int32) ([]*scoredFact, error) {
	where, args := []string{"1 = 1"}, []any{}

	if userID != nil {
		where, args = append(where, "c.user_id = ?"), append(args, *userID)
	}
	if len(connectionIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(connectionIDs)), ", ")
		where = append(where, "f.connection_id IN ("+marks+")")
		for _, id := range connectionIDs {
			args = append(args, id)
		}
	}
	if len(skipEmbeddingIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(skipEmbeddingIDs)), ", ")
		where = append(where, "f.embedding_id NOT IN ("+marks+")")
		for _, id := range skipEmbeddingIDs {
			args = append(args, id)
		}
	}

	query := `
		SELECT f.id, f.text, f.connection_id, f.embedding_id, f.created_ts, f.updated_ts,
			ce.embedding, ce.feature_tags
		FROM fact f
		INNER JOIN connection c ON c.id = f.connection_id
		INNER JOIN cached_embedding ce ON ce.id = f.embedding_id
		WHERE ` + strings.Join(where, " AND ")

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load fact candidates")
	}
	defer rows.Close()

	list := []*scoredFact{}
	for rows.Next() {
		var fact store.Fact
		var blob []byte
		var tagsJSON string
		err := rows.Scan(
			&fact.ID,
			&fact.Text,
			&fact.ConnectionID,
			&fact.EmbeddingID,
			&fact.CreatedTs,
			&fact.UpdatedTs,
			&blob,
			&tagsJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fact candidate")
		}

		var tags []store.FeatureType
		if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal feature tags")
		}
		tagged := false
		for _, tag := range tags {
			if tag == featureTag {
				tagged = true
				break
			}
		}
		if !tagged {
			continue
		}

		embedding, err := blobToVector(blob)
		if err != nil {
			return nil, err
		}
		list = append(list, &scoredFact{
			fact:       &fact,
			similarity: cosineSimilarity(vector, embedding),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func sortScoredFacts(list []*scoredFact) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].similarity != list[j].similarity {
			return list[i].similarity > list[j].similarity
		}
		if list[i].fact.CreatedTs != list[j].fact.CreatedTs {
			return list[i].fact.CreatedTs > list[j].fact.CreatedTs
		}
		return list[i].fact.ID > list[j].fact.ID
	})
}

// SearchFacts performs fact similarity search with similarity computed in the
// application layer. With a nil vector it degrades to a recency-ordered
// listing paginated by fact id.
func (d *DB) SearchFacts(ctx context.Context, opts *store.FactSearchOptions) ([]*store.FactWithScore, error) {
	if len(opts.Vector) == 0 {
		return d.listFactsByRecency(ctx, opts)
	}

	var connectionIDs []int32
	if opts.ConnectionID != nil {
		connectionIDs = []int32{*opts.ConnectionID}
	} else {
		connectionIDs = opts.ConnectionIDs
	}

	candidates, err := d.loadScoredFacts(ctx, opts.Vector, opts.FeatureTag, opts.UserID, connectionIDs, opts.SkipEmbeddingIDs)
	if err != nil {
		return nil, err
	}

	filtered := candidates[:0]
	for _, c := range candidates {
		if c.similarity < opts.MinSimilarity {
			continue
		}
		if opts.Cursor != nil && opts.Cursor.Similarity != nil {
			cs := *opts.Cursor.Similarity
			if c.similarity > cs || (c.similarity == cs && c.fact.ID >= opts.Cursor.LastFactID) {
				continue
			}
		} else if opts.Cursor != nil && c.fact.ID >= opts.Cursor.LastFactID {
			continue
		}
		filtered = append(filtered, c)
	}
	sortScoredFacts(filtered)

	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	results := make([]*store.FactWithScore, 0, len(filtered))
	for _, c := range filtered {
		similarity := c.similarity
		results = append(results, &store.FactWithScore{Fact: c.fact, Similarity: &similarity})
	}
	return results, nil
}

// listFactsByRecencyQuery assembles the list-all query. Kept separate from
// listFactsByRecency so tests can inspect the rendered SQL without a database.
// The filter set mirrors the postgres driver's list-all mode.
func listFactsByRecencyQuery(opts *store.FactSearchOptions) (string, []any) {
	where, args := []string{"1 = 1"}, []any{}

	if opts.UserID != nil {
		where, args = append(where, "c.user_id = ?"), append(args, *opts.UserID)
	}
	if opts.ConnectionID != nil {
		where, args = append(where, "f.connection_id = ?"), append(args, *opts.ConnectionID)
	}
	if len(opts.ConnectionIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.ConnectionIDs)), ", ")
		where = append(where, "f.connection_id IN ("+marks+")")
		for _, id := range opts.ConnectionIDs {
			args = append(args, id)
		}
	}
	if len(opts.SkipEmbeddingIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.SkipEmbeddingIDs)), ", ")
		where = append(where, "f.embedding_id NOT IN ("+marks+")")
		for _, id := range opts.SkipEmbeddingIDs {
			args = append(args, id)
		}
	}
	if opts.Cursor != nil {
		where, args = append(where, "f.id < ?"), append(args, opts.Cursor.LastFactID)
	}

	query := `
		SELECT f.id, f.text, f.connection_id, f.embedding_id, f.created_ts, f.updated_ts
		FROM fact f
		INNER JOIN connection c ON c.id = f.connection_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY f.created_ts DESC, f.id DESC
	`
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}
	return query, args
}

func (d *DB) listFactsByRecency(ctx context.Context, opts *store.FactSearchOptions) ([]*store.FactWithScore, error) {
	query, args := listFactsByRecencyQuery(opts)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list facts by recency")
	}
	defer rows.Close()

	results := []*store.FactWithScore{}
	for rows.Next() {
		var fact store.Fact
		err := rows.Scan(
			&fact.ID,
			&fact.Text,
			&fact.ConnectionID,
			&fact.EmbeddingID,
			&fact.CreatedTs,
			&fact.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fact")
		}
		results = append(results, &store.FactWithScore{Fact: &fact})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SearchConnectionsByFact ranks connections by their single best-matching
// fact, computed in the application layer.
func (d *DB) SearchConnectionsByFact(ctx context.Context, opts *store.ConnectionSearchOptions) ([]*store.ConnectionWithScore, error) {
	candidates, err := d.loadScoredFacts(ctx, opts.Vector, opts.FeatureTag, opts.UserID, nil, nil)
	if err != nil {
		return nil, err
	}

	// Keep each connection's top fact only.
	top := map[int32]*scoredFact{}
	for _, c := range candidates {
		if c.similarity < opts.MinSimilarity {
			continue
		}
		best, ok := top[c.fact.ConnectionID]
		if !ok || c.similarity > best.similarity ||
			(c.similarity == best.similarity && c.fact.CreatedTs > best.fact.CreatedTs) {
			top[c.fact.ConnectionID] = c
		}
	}

	ranked := make([]*scoredFact, 0, len(top))
	for _, c := range top {
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].similarity != ranked[j].similarity {
			return ranked[i].similarity > ranked[j].similarity
		}
		return ranked[i].fact.ConnectionID > ranked[j].fact.ConnectionID
	})

	// Offset and limit apply over connections, not facts.
	if opts.Offset >= len(ranked) {
		return []*store.ConnectionWithScore{}, nil
	}
	ranked = ranked[opts.Offset:]
	if opts.Limit > 0 && len(ranked) > opts.Limit {
		ranked = ranked[:opts.Limit]
	}

	results := make([]*store.ConnectionWithScore, 0, len(ranked))
	for _, c := range ranked {
		connID := c.fact.ConnectionID
		connections, err := d.ListConnections(ctx, &store.FindConnection{ID: &connID})
		if err != nil {
			return nil, err
		}
		if len(connections) == 0 {
			continue
		}
		results = append(results, &store.ConnectionWithScore{
			Connection: connections[0],
			TopFact:    c.fact,
			Similarity: c.similarity,
		})
	}
	return results, nil
}
