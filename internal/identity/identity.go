// Package identity owns the durable per-profile player id. The same id must
// be presented on every request and connection for as long as the player is a
// member of a room, so it is written once and reused across restarts.
package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultFileName = "player_id"

type Store struct {
	mu   sync.RWMutex
	path string
	id   string
}

// NewStore creates a store backed by the given file. An empty path places the
// file under the user config directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "roomsync", defaultFileName)
	}
	return &Store{path: path}, nil
}

// PlayerID returns the persisted id, generating and persisting a fresh one on
// first use.
func (s *Store) PlayerID() (string, error) {
	s.mu.RLock()
	if s.id != "" {
		defer s.mu.RUnlock()
		return s.id, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" {
		return s.id, nil
	}

	raw, err := os.ReadFile(s.path)
	if err == nil {
		id := strings.TrimSpace(string(raw))
		if id != "" {
			s.id = id
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read identity file: %w", err)
	}

	id := uuid.NewString()
	if err := s.write(id); err != nil {
		return "", err
	}
	s.id = id
	return id, nil
}

// Reset discards the current id and persists a new one. Debug affordance;
// normal gameplay never calls this.
func (s *Store) Reset() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.write(id); err != nil {
		return "", err
	}
	s.id = id
	return id, nil
}

func (s *Store) write(id string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	return nil
}
