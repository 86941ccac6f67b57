package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// similarityExpr is the cosine similarity of the cached embedding against a
// bound query vector. The <=> operator computes cosine distance, so the
// expression yields a scalar in [-1, 1], higher meaning more similar. The same
// expression backs the SELECT column, the threshold filter, the ordering and
// the cursor predicate so all of them rank identically.
//
// The ::real cast narrows the float8 distance to float4 before it is selected
// or compared. The scanned similarity and the cursor value are float32, so
// without the cast the tie branch of the cursor predicate would compare a
// rounded float32 against the full-precision float8 and miss, skipping or
// repeating rows tied at a page boundary.
const similarityExpr = "(1 - (ce.embedding <=> ?))::real"

// CreateFact creates a new fact referencing a cached embedding.
func (d *DB) CreateFact(ctx context.Context, create *store.Fact) (*store.Fact, error) {
	now := time.Now().Unix()

	stmt := `
		INSERT INTO fact (text, connection_id, embedding_id, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
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
		where, args = append(where, "f.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ConnectionID != nil {
		where, args = append(where, "f.connection_id = "+placeholder(len(args)+1)), append(args, *find.ConnectionID)
	}
	if len(find.ConnectionIDs) > 0 {
		where, args = append(where, "f.connection_id = ANY ("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.ConnectionIDs))
	}
	if find.UserID != nil {
		where, args = append(where, "c.user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
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
		set, args = append(set, "text = "+placeholder(len(args)+1)), append(args, *update.Text)
	}
	if update.EmbeddingID != nil {
		set, args = append(set, "embedding_id = "+placeholder(len(args)+1)), append(args, *update.EmbeddingID)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID, update.ConnectionID)

	stmt := `
		UPDATE fact
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)-1) + ` AND connection_id = ` + placeholder(len(args)) + `
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

// DeleteFacts hard-deletes facts scoped by connection id and returns the
// number of deleted rows.
func (d *DB) DeleteFacts(ctx context.Context, delete *store.DeleteFact) (int64, error) {
	where, args := []string{"connection_id = " + placeholder(1)}, []any{delete.ConnectionID}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
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

// searchFactsBuilder assembles the fact search query. Kept separate from
// SearchFacts so tests can inspect the rendered SQL without a database.
func searchFactsBuilder(opts *store.FactSearchOptions) *SQLBuilder {
	qb := NewSQLBuilder().
		AddSelect("f.id").
		AddSelect("f.text").
		AddSelect("f.connection_id").
		AddSelect("f.embedding_id").
		AddSelect("f.created_ts").
		AddSelect("f.updated_ts").
		AddFrom("fact f").
		AddJoin("INNER JOIN connection c ON c.id = f.connection_id")

	searching := len(opts.Vector) > 0
	if searching {
		vector := pgvector.NewVector(opts.Vector)
		qb = qb.
			AddSelect(similarityExpr+" AS similarity", vector).
			AddJoin("INNER JOIN cached_embedding ce ON ce.id = f.embedding_id").
			AddWhere("? = ANY (ce.feature_tags)", string(opts.FeatureTag)).
			// Inclusive lower bound: a fact exactly at the threshold matches.
			AddWhere(similarityExpr+" >= ?", vector, opts.MinSimilarity)
	}

	if opts.UserID != nil {
		qb = qb.AddWhere("c.user_id = ?", *opts.UserID)
	}
	if opts.ConnectionID != nil {
		qb = qb.AddWhere("f.connection_id = ?", *opts.ConnectionID)
	}
	if len(opts.ConnectionIDs) > 0 {
		qb = qb.AddWhere("f.connection_id = ANY (?)", pq.Array(opts.ConnectionIDs))
	}
	if len(opts.SkipEmbeddingIDs) > 0 {
		qb = qb.AddWhere("NOT (f.embedding_id = ANY (?))", pq.Array(opts.SkipEmbeddingIDs))
	}

	if opts.Cursor != nil {
		if searching && opts.Cursor.Similarity != nil {
			// Keyset descent over (similarity, id). The tie branch keeps rows
			// with equal similarity from being skipped or repeated.
			vector := pgvector.NewVector(opts.Vector)
			qb = qb.AddWhere(
				"("+similarityExpr+" < ? OR ("+similarityExpr+" = ? AND f.id < ?))",
				vector, *opts.Cursor.Similarity,
				vector, *opts.Cursor.Similarity,
				opts.Cursor.LastFactID,
			)
		} else {
			qb = qb.AddWhere("f.id < ?", opts.Cursor.LastFactID)
		}
	}

	if searching {
		qb = qb.AddOrderBy("similarity DESC")
	}
	qb = qb.AddOrderBy("f.created_ts DESC").AddOrderBy("f.id DESC")

	if opts.Limit > 0 {
		qb = qb.SetLimit(opts.Limit)
	}
	return qb
}

// SearchFacts performs fact similarity search. With a nil vector it degrades
// to a recency-ordered listing without similarity values.
func (d *DB) SearchFacts(ctx context.Context, opts *store.FactSearchOptions) ([]*store.FactWithScore, error) {
	query, args, err := searchFactsBuilder(opts).Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build fact search query")
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search facts")
	}
	defer rows.Close()

	searching := len(opts.Vector) > 0
	results := []*store.FactWithScore{}
	for rows.Next() {
		var fact store.Fact
		dest := []any{
			&fact.ID,
			&fact.Text,
			&fact.ConnectionID,
			&fact.EmbeddingID,
			&fact.CreatedTs,
			&fact.UpdatedTs,
		}
		var similarity float32
		if searching {
			dest = append(dest, &similarity)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, "failed to scan fact search result")
		}

		result := &store.FactWithScore{Fact: &fact}
		if searching {
			s := similarity
			result.Similarity = &s
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SearchConnectionsByFact ranks connections by their single best-matching
// fact. A window function keeps only each connection's top fact and the outer
// query orders and pages over connections, not facts.
func (d *DB) SearchConnectionsByFact(ctx context.Context, opts *store.ConnectionSearchOptions) ([]*store.ConnectionWithScore, error) {
	vector := pgvector.NewVector(opts.Vector)

	inner := NewSQLBuilder().
		AddSelect("c.id").
		AddSelect("c.uid").
		AddSelect("c.name").
		AddSelect("c.met_at").
		AddSelect("c.met_when").
		AddSelect("c.user_id").
		AddSelect("c.created_ts").
		AddSelect("c.updated_ts").
		AddSelect("f.id AS fact_id").
		AddSelect("f.text AS fact_text").
		AddSelect("f.embedding_id AS fact_embedding_id").
		AddSelect("f.created_ts AS fact_created_ts").
		AddSelect("f.updated_ts AS fact_updated_ts").
		AddSelect(similarityExpr+" AS similarity", vector).
		AddSelect(
			"ROW_NUMBER() OVER (PARTITION BY c.id ORDER BY "+similarityExpr+" DESC, f.created_ts DESC, f.id DESC) AS rn",
			vector,
		).
		AddFrom("fact f").
		AddJoin("INNER JOIN connection c ON c.id = f.connection_id").
		AddJoin("INNER JOIN cached_embedding ce ON ce.id = f.embedding_id").
		AddWhere("? = ANY (ce.feature_tags)", string(opts.FeatureTag)).
		AddWhere(similarityExpr+" >= ?", vector, opts.MinSimilarity)

	if opts.UserID != nil {
		inner = inner.AddWhere("c.user_id = ?", *opts.UserID)
	}

	innerQuery, args, err := inner.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build connection search query")
	}

	query := `
		SELECT id, uid, name, met_at, met_when, user_id, created_ts, updated_ts,
			fact_id, fact_text, fact_embedding_id, fact_created_ts, fact_updated_ts, similarity
		FROM (` + innerQuery + `) ranked
		WHERE rn = 1
		ORDER BY similarity DESC, id DESC
		OFFSET ` + placeholder(len(args)+1) + ` LIMIT ` + placeholder(len(args)+2)
	args = append(args, opts.Offset, opts.Limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search connections by fact")
	}
	defer rows.Close()

	results := []*store.ConnectionWithScore{}
	for rows.Next() {
		var connection store.Connection
		var fact store.Fact
		var result store.ConnectionWithScore

		err := rows.Scan(
			&connection.ID,
			&connection.UID,
			&connection.Name,
			&connection.MetAt,
			&connection.MetWhen,
			&connection.UserID,
			&connection.CreatedTs,
			&connection.UpdatedTs,
			&fact.ID,
			&fact.Text,
			&fact.EmbeddingID,
			&fact.CreatedTs,
			&fact.UpdatedTs,
			&result.Similarity,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan connection search result")
		}

		fact.ConnectionID = connection.ID
		result.Connection = &connection
		result.TopFact = &fact
		results = append(results, &result)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
