package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindow struct {
	start  time.Time
	window time.Duration
	count  int
	last   time.Time
}

// MemoryStore keeps windows in process memory. Counts are lost on restart
// and are not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	groups  map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		groups:  make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Take(_ context.Context, key string, p Policy, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || now.Sub(w.start) > p.Window {
		w = &memoryWindow{start: now, window: p.Window}
		s.windows[key] = w
	}
	w.last = now

	if w.count >= p.Max {
		return Window{Start: w.start, Count: w.count, Allowed: false}, nil
	}

	w.count++
	return Window{Start: w.start, Count: w.count, Allowed: true}, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// AddToGroup files key under group. Members are pruned by Sweep once their
// window is gone, so ttl is not needed here.
func (s *MemoryStore) AddToGroup(_ context.Context, group, key string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.groups[group]
	if !ok {
		members = make(map[string]struct{})
		s.groups[group] = members
	}
	members[key] = struct{}{}
	return nil
}

func (s *MemoryStore) ResetGroup(_ context.Context, group string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.groups[group] {
		if _, ok := s.windows[key]; ok {
			delete(s.windows, key)
			removed++
		}
	}
	delete(s.groups, group)
	return removed, nil
}

// Sweep drops windows that ended before now and returns how many were removed
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if now.Sub(w.start) > w.window {
			delete(s.windows, key)
			removed++
		}
	}
	for group, members := range s.groups {
		for key := range members {
			if _, ok := s.windows[key]; !ok {
				delete(members, key)
			}
		}
		if len(members) == 0 {
			delete(s.groups, group)
		}
	}
	return removed
}

// Len returns the number of tracked windows
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.windows = make(map[string]*memoryWindow)
	s.groups = make(map[string]map[string]struct{})
	s.mu.Unlock()
	return nil
}
