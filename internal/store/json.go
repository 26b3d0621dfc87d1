package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// JSONStore implements RoomStore on a flat {"room": "sha256hex"} file,
// the room_config.json layout relays have always used.
type JSONStore struct {
	path string

	mu    sync.RWMutex
	rooms map[string]string
}

// NewJSONStore loads path. A missing file is an empty store; it is
// created on the first PutRoom.
func NewJSONStore(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, rooms: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read room config: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.rooms); err != nil {
		return nil, fmt.Errorf("parse room config %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) GetRoom(_ context.Context, id string) (*RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return &RoomRecord{ID: id, PasswordHash: hash}, nil
}

func (s *JSONStore) PutRoom(_ context.Context, r *RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.rooms[r.ID]
	s.rooms[r.ID] = r.PasswordHash
	if err := s.flush(); err != nil {
		if had {
			s.rooms[r.ID] = prev
		} else {
			delete(s.rooms, r.ID)
		}
		return err
	}
	return nil
}

func (s *JSONStore) ListRooms(_ context.Context) ([]*RoomRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*RoomRecord, 0, len(s.rooms))
	for id, hash := range s.rooms {
		rooms = append(rooms, &RoomRecord{ID: id, PasswordHash: hash})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *JSONStore) DeleteRoom(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[id]; !ok {
		return nil
	}
	delete(s.rooms, id)
	return s.flush()
}

func (s *JSONStore) CountRooms(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms), nil
}

// flush writes the map through a temp file and rename. Caller holds mu.
func (s *JSONStore) flush() error {
	data, err := json.MarshalIndent(s.rooms, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write room config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("replace room config: %w", err)
	}
	return os.Chmod(s.path, 0600)
}
