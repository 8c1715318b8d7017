package auth

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/assetdesk/internal/clock"
	"github.com/BradenHooton/assetdesk/internal/models"
)

// MemorySessionStore keeps sessions in process memory (single instance only)
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	clock    clock.Clock
}

func NewMemorySessionStore(clk clock.Clock) *MemorySessionStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemorySessionStore{sessions: make(map[string]Session), clock: clk}
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || !sess.ExpiresAt.After(s.clock.Now()) {
		return nil, models.ErrSessionNotFound
	}

	sess.Flash = append([]string(nil), sess.Flash...)
	return &sess, nil
}

func (s *MemorySessionStore) Save(_ context.Context, sess *Session) error {
	cp := *sess
	cp.Flash = append([]string(nil), sess.Flash...)
	cp.isNew = false
	cp.dirty = false

	s.mu.Lock()
	s.sessions[sess.ID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed
func (s *MemorySessionStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemorySessionStore) Close() error {
	return nil
}
