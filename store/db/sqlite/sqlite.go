package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/kaloyanBozhkov/linkbase/internal/profile"
	"github.com/kaloyanBozhkov/linkbase/store"
)

// SQLite is supported on a best-effort basis for development and testing.
// Vectors are stored as little-endian float32 BLOBs and cosine similarity is
// computed in the application layer, so similarity search loads every
// candidate row. Concurrent writers are not supported.

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a SQLite database specified by the DSN from the profile.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// WAL journal mode prevents most locking issues for a single writer.
	db, err := sql.Open("sqlite", profile.DSN+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database with dsn: %s", profile.DSN)
	}
	db.SetMaxOpenConns(1)

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS cached_embedding (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL UNIQUE,
	embedding BLOB NOT NULL,
	feature_tags TEXT NOT NULL DEFAULT '[]',
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS connection (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uid TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	met_at TEXT NOT NULL DEFAULT '',
	met_when INTEGER NOT NULL DEFAULT 0,
	user_id INTEGER NOT NULL,
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fact (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	connection_id INTEGER NOT NULL REFERENCES connection (id) ON DELETE CASCADE,
	embedding_id INTEGER NOT NULL REFERENCES cached_embedding (id),
	created_ts INTEGER NOT NULL,
	updated_ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_connection_id ON fact (connection_id);
CREATE INDEX IF NOT EXISTS idx_connection_user_id ON connection (user_id);
`

// Migrate creates the schema idempotently.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate schema")
	}
	return nil
}
