// Package store defines the persistence interface for room credentials.
// Both implementations (JSON file, SQLite) satisfy RoomStore, so the relay
// can swap backends without changing access control.
package store

import (
	"context"
	"time"
)

// RoomStore is the persistence interface for room password hashes.
// Implementations must be safe for concurrent use.
type RoomStore interface {
	// GetRoom returns nil, nil when the room is not configured.
	GetRoom(ctx context.Context, id string) (*RoomRecord, error)
	// PutRoom creates or replaces a room's password hash.
	PutRoom(ctx context.Context, room *RoomRecord) error
	ListRooms(ctx context.Context) ([]*RoomRecord, error)
	DeleteRoom(ctx context.Context, id string) error
	// CountRooms reports how many rooms are configured. Zero means the
	// relay runs without a password policy.
	CountRooms(ctx context.Context) (int, error)

	// Close releases file or database resources.
	Close() error
}

// RoomRecord is a configured room. PasswordHash is the lowercase hex
// SHA-256 of the room password.
type RoomRecord struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}
