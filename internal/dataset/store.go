package dataset

import (
	"context"
	"sync"
	"time"
)

// Cached is the dataset currently associated with a session.
type Cached struct {
	Frame    *Frame
	Source   string
	Uploaded time.Time

	mu         sync.Mutex
	lastAccess time.Time
}

func (c *Cached) touch(now time.Time) {
	c.mu.Lock()
	c.lastAccess = now
	c.mu.Unlock()
}

// LastAccess returns when the dataset was last read or replaced.
func (c *Cached) LastAccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAccess
}

func (c *Cached) idleSince(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastAccess()) > ttl
}

// Store holds at most one dataset per session. Uploads replace the entry
// wholesale; reads refresh its timestamp.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Cached
	now   func() time.Time
}

// NewStore creates an empty dataset cache.
func NewStore() *Store {
	return &Store{items: make(map[string]*Cached), now: time.Now}
}

// Put replaces the session's dataset.
func (s *Store) Put(sessionID string, f *Frame, source string) {
	now := s.now()
	c := &Cached{Frame: f, Source: source, Uploaded: now, lastAccess: now}
	s.mu.Lock()
	s.items[sessionID] = c
	s.mu.Unlock()
}

// Get returns the session's dataset and refreshes its timestamp.
func (s *Store) Get(sessionID string) (*Frame, bool) {
	s.mu.RLock()
	c, ok := s.items[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c.touch(s.now())
	return c.Frame, true
}

// Len returns the number of cached datasets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Expired lists sessions whose dataset was not accessed within ttl.
func (s *Store) Expired(ttl time.Duration) []string {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, c := range s.items {
		if c.idleSince(now, ttl) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EvictIfIdle drops the dataset when it is still idle past ttl. A read that
// happened after the sweep collected the id keeps the entry alive.
func (s *Store) EvictIfIdle(_ context.Context, sessionID string, ttl time.Duration) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.items[sessionID]
	if !ok || !c.idleSince(now, ttl) {
		return false, nil
	}
	delete(s.items, sessionID)
	return true, nil
}
