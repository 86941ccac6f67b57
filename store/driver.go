package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for database drivers.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	// Migrate creates the schema idempotently.
	Migrate(ctx context.Context) error

	// Connection model related methods.
	CreateConnection(ctx context.Context, create *Connection) (*Connection, error)
	ListConnections(ctx context.Context, find *FindConnection) ([]*Connection, error)
	UpdateConnection(ctx context.Context, update *UpdateConnection) (*Connection, error)
	DeleteConnection(ctx context.Context, delete *DeleteConnection) error

	// Fact model related methods.
	CreateFact(ctx context.Context, create *Fact) (*Fact, error)
	ListFacts(ctx context.Context, find *FindFact) ([]*Fact, error)
	UpdateFact(ctx context.Context, update *UpdateFact) (*Fact, error)
	DeleteFacts(ctx context.Context, delete *DeleteFact) (int64, error)
	SearchFacts(ctx context.Context, opts *FactSearchOptions) ([]*FactWithScore, error)
	SearchConnectionsByFact(ctx context.Context, opts *ConnectionSearchOptions) ([]*ConnectionWithScore, error)

	// CachedEmbedding model related methods.
	UpsertCachedEmbedding(ctx context.Context, upsert *UpsertCachedEmbedding) (*CachedEmbedding, error)
	ListCachedEmbeddings(ctx context.Context, find *FindCachedEmbedding) ([]*CachedEmbedding, error)
}
