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

// UpsertCachedEmbedding atomically inserts a cached embedding or fetches the
// existing row for the same text. Concurrent misses for one text therefore
// converge on a single row. On conflict the stored vector is kept and the
// feature tag set is extended with the requested tags.
func (d *DB) UpsertCachedEmbedding(ctx context.Context, upsert *store.UpsertCachedEmbedding) (*store.CachedEmbedding, error) {
	now := time.Now().Unix()

	stmt := `
		INSERT INTO cached_embedding (text, embedding, feature_tags, created_ts, updated_ts)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (text)
		DO UPDATE SET
			feature_tags = (
				SELECT ARRAY(SELECT DISTINCT UNNEST(cached_embedding.feature_tags || EXCLUDED.feature_tags))
			),
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, text, embedding, feature_tags, created_ts, updated_ts
	`

	tags := make([]string, 0, len(upsert.FeatureTags))
	for _, tag := range upsert.FeatureTags {
		tags = append(tags, string(tag))
	}

	var embedding store.CachedEmbedding
	var vector pgvector.Vector
	var scannedTags []string
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.Text,
		pgvector.NewVector(upsert.Embedding),
		pq.Array(tags),
		now,
		now,
	).Scan(
		&embedding.ID,
		&embedding.Text,
		&vector,
		pq.Array(&scannedTags),
		&embedding.CreatedTs,
		&embedding.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert cached embedding")
	}

	embedding.Embedding = vector.Slice()
	embedding.FeatureTags = toFeatureTags(scannedTags)
	return &embedding, nil
}

// ListCachedEmbeddings lists cached embeddings.
func (d *DB) ListCachedEmbeddings(ctx context.Context, find *store.FindCachedEmbedding) ([]*store.CachedEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Text != nil {
		where, args = append(where, "text = "+placeholder(len(args)+1)), append(args, *find.Text)
	}
	if len(find.Texts) > 0 {
		where, args = append(where, "text = ANY ("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.Texts))
	}
	if find.FeatureTag != nil {
		where, args = append(where, placeholder(len(args)+1)+" = ANY (feature_tags)"), append(args, string(*find.FeatureTag))
	}

	query := `
		SELECT id, text, embedding, feature_tags, created_ts, updated_ts
		FROM cached_embedding
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id
	`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list cached embeddings")
	}
	defer rows.Close()

	list := []*store.CachedEmbedding{}
	for rows.Next() {
		var embedding store.CachedEmbedding
		var vector pgvector.Vector
		var tags []string
		err := rows.Scan(
			&embedding.ID,
			&embedding.Text,
			&vector,
			pq.Array(&tags),
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cached embedding")
		}

		embedding.Embedding = vector.Slice()
		embedding.FeatureTags = toFeatureTags(tags)
		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func toFeatureTags(tags []string) []store.FeatureType {
	list := make([]store.FeatureType, 0, len(tags))
	for _, tag := range tags {
		list = append(list, store.FeatureType(tag))
	}
	return list
}
