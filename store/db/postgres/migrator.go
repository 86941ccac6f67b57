package postgres

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

const schemaTemplate = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS cached_embedding (
	id SERIAL PRIMARY KEY,
	text TEXT NOT NULL UNIQUE,
	embedding VECTOR(%d) NOT NULL,
	feature_tags TEXT[] NOT NULL DEFAULT '{}',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS connection (
	id SERIAL PRIMARY KEY,
	uid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	met_at TEXT NOT NULL DEFAULT '',
	met_when BIGINT NOT NULL DEFAULT 0,
	user_id INTEGER NOT NULL,
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact (
	id SERIAL PRIMARY KEY,
	text TEXT NOT NULL,
	connection_id INTEGER NOT NULL REFERENCES connection (id) ON DELETE CASCADE,
	embedding_id INTEGER NOT NULL REFERENCES cached_embedding (id),
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_connection_id ON fact (connection_id);
CREATE INDEX IF NOT EXISTS idx_fact_embedding_id ON fact (embedding_id);
CREATE INDEX IF NOT EXISTS idx_connection_user_id ON connection (user_id);
CREATE INDEX IF NOT EXISTS idx_cached_embedding_vector
	ON cached_embedding USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the schema idempotently. The vector column dimension is
// fixed per instance and comes from the profile; changing it requires a
// manual migration.
func (d *DB) Migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(schemaTemplate, d.profile.EmbeddingDimensions)
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrap(err, "failed to migrate schema")
	}
	return nil
}
