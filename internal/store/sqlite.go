package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// migrations is an ordered list of SQL statements applied on startup.
// Each entry is idempotent (IF NOT EXISTS) so re-running is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id            TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at    TEXT NOT NULL,
		updated_at    TEXT NOT NULL
	)`,
}

// SQLiteStore implements RoomStore using a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite handles one writer at a time.

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// --- Rooms ---

func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*RoomRecord, error) {
	var r RoomRecord
	var created, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, password_hash, created_at, updated_at FROM rooms WHERE id = ?`, id).
		Scan(&r.ID, &r.PasswordHash, &created, &updated)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
	return &r, nil
}

func (s *SQLiteStore) PutRoom(ctx context.Context, r *RoomRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (id, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET password_hash = excluded.password_hash, updated_at = excluded.updated_at`,
		r.ID, r.PasswordHash, now, now)
	return err
}

func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*RoomRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, password_hash, created_at, updated_at FROM rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var rooms []*RoomRecord
	for rows.Next() {
		var r RoomRecord
		var created, updated string
		if err := rows.Scan(&r.ID, &r.PasswordHash, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		rooms = append(rooms, &r)
	}
	return rooms, rows.Err()
}

func (s *SQLiteStore) DeleteRoom(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) CountRooms(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms`).Scan(&n)
	return n, err
}

// ImportJSON copies every room of a JSON store into the database, used
// when migrating an existing room_config.json.
func (s *SQLiteStore) ImportJSON(ctx context.Context, src *JSONStore) (int, error) {
	rooms, err := src.ListRooms(ctx)
	if err != nil {
		return 0, err
	}
	for _, r := range rooms {
		if err := s.PutRoom(ctx, r); err != nil {
			return 0, fmt.Errorf("import room %s: %w", r.ID, err)
		}
	}
	return len(rooms), nil
}
