package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. Expired sessions are kept for
// retention so callers can still tell EXPIRED from INACTIVE, then swept.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[Key]*Session
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(retention time.Duration, now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		sessions:  make(map[Key]*Session),
		retention: retention,
		now:       now,
	}
}

// Get returns a copy of the session stored under key.
func (m *MemoryStore) Get(_ context.Context, key Key) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return s.clone(), nil
}

// Update applies fn under the store lock.
func (m *MemoryStore) Update(_ context.Context, key Key, fn func(cur *Session) (*Session, error)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()

	next, err := fn(m.sessions[key].clone())
	if err != nil {
		return nil, err
	}
	m.sessions[key] = next.clone()
	return next, nil
}

// Delete removes key.
func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, key)
	return nil
}

// Len returns the number of stored sessions, including expired ones still retained.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MemoryStore) sweep() {
	cutoff := m.now().Add(-m.retention)
	for k, s := range m.sessions {
		if s.ExpiresAt.Before(cutoff) {
			delete(m.sessions, k)
		}
	}
}
