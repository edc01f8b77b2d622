package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryStore returns an empty store whose sessions live for ttl after
// their last write.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      o.now,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := sess.Clone()
	c.stamp(s.now(), s.ttl)

	s.mu.Lock()
	s.sessions[c.ID] = c
	s.mu.Unlock()

	sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt = c.CreatedAt, c.UpdatedAt, c.ExpiresAt
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Expired(s.now()) {
		delete(s.sessions, id)
		return nil, ErrExpired
	}
	return sess.Clone(), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep implements Store.
func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
