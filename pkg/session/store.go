// Package session keeps analysis sessions in memory for the API. Sessions are
// identified by a server-generated UUID and evicted after a period of
// inactivity.
package session

import (
	"context"
	"sync"
	"time"

	"billboardvis/pkg/pipeline"

	"github.com/google/uuid"
)

// cleanupInterval is how often Get() triggers lazy eviction of expired entries.
const cleanupInterval = 100

type entry struct {
	value      *pipeline.Session
	lastAccess time.Time
}

// Store is a thread-safe session store.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	ttl      time.Duration
	getCalls int
	now      func() time.Time
}

// New creates a Store that evicts sessions inactive longer than ttl.
func New(ttl time.Duration) *Store {
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Create registers a new empty session under a fresh ID.
func (s *Store) Create() *pipeline.Session {
	sess := pipeline.NewSession(uuid.NewString())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sess.ID] = &entry{value: sess, lastAccess: s.now()}
	return sess
}

// Get returns the session with the given ID. Each hit refreshes the session's
// last-access timestamp.
func (s *Store) Get(id string) (*pipeline.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.getCalls++
	if s.getCalls%cleanupInterval == 0 {
		s.cleanupLocked()
	}

	e, ok := s.entries[id]
	if !ok || s.expired(e) {
		delete(s.entries, id)
		return nil, false
	}
	e.lastAccess = s.now()
	return e.value, true
}

// Delete drops a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Cleanup evicts all sessions that have been inactive longer than the TTL.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked()
}

func (s *Store) cleanupLocked() int {
	n := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *Store) expired(e *entry) bool {
	return s.ttl > 0 && s.now().Sub(e.lastAccess) > s.ttl
}

// Len returns the number of stored sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run evicts expired sessions every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
