package sqlite

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// UpsertCachedEmbedding inserts a cached embedding or returns the existing row
// for the same text, extending its feature tags. The tag union is computed in
// the application layer under the dev driver's single-writer assumption.
func (d *DB) UpsertCachedEmbedding(ctx context.Context, upsert *store.UpsertCachedEmbedding) (*store.CachedEmbedding, error) {
	existing, err := d.ListCachedEmbeddings(ctx, &store.FindCachedEmbedding{Text: &upsert.Text})
	if err != nil {
		return nil, err
	}

	now := time.Now().Unix()
	if len(existing) > 0 {
		row := existing[0]
		merged := mergeFeatureTags(row.FeatureTags, upsert.FeatureTags)
		tagsJSON, err := json.Marshal(merged)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal feature tags")
		}

		stmt := `UPDATE cached_embedding SET feature_tags = ?, updated_ts = ? WHERE id = ?`
		if _, err := d.db.ExecContext(ctx, stmt, string(tagsJSON), now, row.ID); err != nil {
			return nil, errors.Wrap(err, "failed to update cached embedding tags")
		}

		row.FeatureTags = merged
		row.UpdatedTs = now
		return row, nil
	}

	tagsJSON, err := json.Marshal(upsert.FeatureTags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal feature tags")
	}

	stmt := `
		INSERT INTO cached_embedding (text, embedding, feature_tags, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (text) DO UPDATE SET updated_ts = excluded.updated_ts
		RETURNING id, created_ts, updated_ts
	`

	embedding := &store.CachedEmbedding{
		Text:        upsert.Text,
		Embedding:   upsert.Embedding,
		FeatureTags: upsert.FeatureTags,
	}
	err = d.db.QueryRowContext(ctx, stmt,
		upsert.Text,
		vectorToBLOB(upsert.Embedding),
		string(tagsJSON),
		now,
		now,
	).Scan(&embedding.ID, &embedding.CreatedTs, &embedding.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert cached embedding")
	}

	return embedding, nil
}

// ListCachedEmbeddings lists cached embeddings. Feature tag filtering happens
// in the application layer since tags are stored as a JSON array.
func (d *DB) ListCachedEmbeddings(ctx context.Context, find *store.FindCachedEmbedding) ([]*store.CachedEmbedding, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Text != nil {
		where, args = append(where, "text = ?"), append(args, *find.Text)
	}
	if len(find.Texts) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(find.Texts)), ", ")
		where = append(where, "text IN ("+marks+")")
		for _, text := range find.Texts {
			args = append(args, text)
		}
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
		var blob []byte
		var tagsJSON string
		err := rows.Scan(
			&embedding.ID,
			&embedding.Text,
			&blob,
			&tagsJSON,
			&embedding.CreatedTs,
			&embedding.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan cached embedding")
		}

		if embedding.Embedding, err = blobToVector(blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tagsJSON), &embedding.FeatureTags); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal feature tags")
		}

		if find.FeatureTag != nil && !embedding.HasFeatureTag(*find.FeatureTag) {
			continue
		}
		list = append(list, &embedding)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func mergeFeatureTags(existing, requested []store.FeatureType) []store.FeatureType {
	merged := append([]store.FeatureType(nil), existing...)
	for _, tag := range requested {
		seen := false
		for _, have := range merged {
			if have == tag {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, tag)
		}
	}
	return merged
}
