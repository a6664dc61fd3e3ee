// pattern: Imperative Shell

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"coderoom/internal/room"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id         TEXT PRIMARY KEY,
	created_by TEXT NOT NULL,
	mode       TEXT NOT NULL,
	max_users  INTEGER NOT NULL DEFAULT 2,
	language   TEXT NOT NULL DEFAULT 'javascript',
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite is a room store backed by a sqlite database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The driver serializes writers per connection; a single connection
	// avoids SQLITE_BUSY on concurrent upserts from the seed watcher.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// FindRoomByID returns the room with the given id, or ErrNotFound.
func (s *SQLite) FindRoomByID(ctx context.Context, id string) (*room.Room, error) {
	const q = `SELECT id, created_by, mode, max_users, language FROM rooms WHERE id = ?`

	var r room.Room
	var mode string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.CreatedBy, &mode, &r.MaxUsers, &r.Language)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query room %s: %w", id, err)
	}

	parsed, err := room.ParseMode(mode)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", id, err)
	}
	r.Mode = parsed
	return &r, nil
}

// UpsertRoom inserts the room or updates its mutable display fields.
// Mode and creator are immutable once a room exists; an upsert never
// rewrites them.
func (s *SQLite) UpsertRoom(ctx context.Context, r *room.Room) error {
	const q = `
		INSERT INTO rooms (id, created_by, mode, max_users, language)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			max_users = excluded.max_users,
			language  = excluded.language
	`
	if _, err := s.db.ExecContext(ctx, q, r.ID, r.CreatedBy, string(r.Mode), r.MaxUsers, r.Language); err != nil {
		return fmt.Errorf("upsert room %s: %w", r.ID, err)
	}
	return nil
}

// ListRooms returns all rooms ordered by id.
func (s *SQLite) ListRooms(ctx context.Context) ([]room.Room, error) {
	const q = `SELECT id, created_by, mode, max_users, language FROM rooms ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []room.Room
	for rows.Next() {
		var r room.Room
		var mode string
		if err := rows.Scan(&r.ID, &r.CreatedBy, &mode, &r.MaxUsers, &r.Language); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		parsed, err := room.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", r.ID, err)
		}
		r.Mode = parsed
		out = append(out, r)
	}
	return out, rows.Err()
}
