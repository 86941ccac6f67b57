package store

import (
	"context"

	"github.com/pkg/errors"
)

// Connection represents a person in the user's network. It owns an unordered
// set of facts which are cascade-deleted with it.
type Connection struct {
	ID        int32
	UID       string
	Name      string
	MetAt     string
	MetWhen   int64
	UserID    int32
	CreatedTs int64
	UpdatedTs int64
}

// FindConnection is the find condition for connections.
type FindConnection struct {
	ID     *int32
	UID    *string
	UserID *int32
	Limit  *int
	Offset *int
}

// UpdateConnection is the update request for a connection.
type UpdateConnection struct {
	ID      int32
	Name    *string
	MetAt   *string
	MetWhen *int64
}

// DeleteConnection is the delete request for a connection. Deleting a
// connection cascades to its facts; shared cached embeddings stay intact.
type DeleteConnection struct {
	ID int32
}

// CreateConnection creates a new connection.
func (s *Store) CreateConnection(ctx context.Context, create *Connection) (*Connection, error) {
	if create.Name == "" {
		return nil, errors.New("connection name cannot be empty")
	}
	return s.driver.CreateConnection(ctx, create)
}

// ListConnections lists connections matching the find condition.
func (s *Store) ListConnections(ctx context.Context, find *FindConnection) ([]*Connection, error) {
	return s.driver.ListConnections(ctx, find)
}

// GetConnection gets a single connection matching the find condition, or nil.
func (s *Store) GetConnection(ctx context.Context, find *FindConnection) (*Connection, error) {
	list, err := s.driver.ListConnections(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// UpdateConnection updates a connection.
func (s *Store) UpdateConnection(ctx context.Context, update *UpdateConnection) (*Connection, error) {
	return s.driver.UpdateConnection(ctx, update)
}

// DeleteConnection deletes a connection and, by cascade, its facts.
func (s *Store) DeleteConnection(ctx context.Context, delete *DeleteConnection) error {
	return s.driver.DeleteConnection(ctx, delete)
}
