package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kaloyanBozhkov/linkbase/store"
)

// CreateConnection creates a new connection.
func (d *DB) CreateConnection(ctx context.Context, create *store.Connection) (*store.Connection, error) {
	now := time.Now().Unix()

	stmt := `
		INSERT INTO connection (uid, name, met_at, met_when, user_id, created_ts, updated_ts)
		VALUES (` + placeholders(7) + `)
		RETURNING id, created_ts, updated_ts
	`

	err := d.db.QueryRowContext(ctx, stmt,
		create.UID,
		create.Name,
		create.MetAt,
		create.MetWhen,
		create.UserID,
		now,
		now,
	).Scan(&create.ID, &create.CreatedTs, &create.UpdatedTs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create connection")
	}

	return create, nil
}

// ListConnections lists connections.
func (d *DB) ListConnections(ctx context.Context, find *store.FindConnection) ([]*store.Connection, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `
		SELECT id, uid, name, met_at, met_when, user_id, created_ts, updated_ts
		FROM connection
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts DESC, id DESC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET " + placeholder(len(args)+1)
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list connections")
	}
	defer rows.Close()

	list := []*store.Connection{}
	for rows.Next() {
		var connection store.Connection
		err := rows.Scan(
			&connection.ID,
			&connection.UID,
			&connection.Name,
			&connection.MetAt,
			&connection.MetWhen,
			&connection.UserID,
			&connection.CreatedTs,
			&connection.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan connection")
		}
		list = append(list, &connection)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// UpdateConnection updates a connection.
func (d *DB) UpdateConnection(ctx context.Context, update *store.UpdateConnection) (*store.Connection, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.MetAt != nil {
		set, args = append(set, "met_at = "+placeholder(len(args)+1)), append(args, *update.MetAt)
	}
	if update.MetWhen != nil {
		set, args = append(set, "met_when = "+placeholder(len(args)+1)), append(args, *update.MetWhen)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	set, args = append(set, "updated_ts = "+placeholder(len(args)+1)), append(args, time.Now().Unix())
	args = append(args, update.ID)

	stmt := `
		UPDATE connection
		SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, name, met_at, met_when, user_id, created_ts, updated_ts
	`

	var connection store.Connection
	err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&connection.ID,
		&connection.UID,
		&connection.Name,
		&connection.MetAt,
		&connection.MetWhen,
		&connection.UserID,
		&connection.CreatedTs,
		&connection.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update connection")
	}

	return &connection, nil
}

// DeleteConnection deletes a connection. Facts are removed by the cascade on
// the foreign key; referenced cached embeddings are left intact.
func (d *DB) DeleteConnection(ctx context.Context, delete *store.DeleteConnection) error {
	stmt := `DELETE FROM connection WHERE id = ` + placeholder(1)
	result, err := d.db.ExecContext(ctx, stmt, delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete connection")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return errors.Errorf("connection %d not found", delete.ID)
	}
	return nil
}
