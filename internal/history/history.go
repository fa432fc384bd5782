// Package history loads and records per-session message history. The
// session core only appends to what a Loader returns; it never fetches on
// its own beyond the initial resume load.
package history

import (
	"context"
	"errors"
	"sync"

	"github.com/carelinehq/realtime/internal/domain"
)

// ErrNotFound is returned when a session has no recorded history.
var ErrNotFound = errors.New("history: not found")

// Loader supplies the initial message list when a session resumes.
type Loader interface {
	Load(ctx context.Context, sessionID string) ([]domain.Message, error)
}

// Recorder persists finalized messages as a session progresses.
type Recorder interface {
	Record(ctx context.Context, sessionID string, msg domain.Message) error
}

// Store combines both sides.
type Store interface {
	Loader
	Recorder
}

// MemoryStore keeps history in process. Used by the gateway in tests and
// as the default backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]domain.Message)}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Record(ctx context.Context, sessionID string, msg domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
	return nil
}
