// Package session keeps the per-document state between calls: the original
// text, the current sanitized text, its token occurrences and the token map.
//
// Stores own the expiry policy. Put stamps a session with a fresh expiry, so
// every stored mutation extends its life; reads do not. Expired sessions are
// reported by Get and removed lazily, and RunSweeper removes them in the
// background.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"redactflow/internal/logger"
	"redactflow/internal/metrics"
	"redactflow/internal/tokenmap"
)

var (
	// ErrNotFound is returned for ids the store does not hold.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned by Get for a session past its expiry. The session
	// is removed as a side effect.
	ErrExpired = errors.New("session expired")
)

// Session is one document's redaction state.
type Session struct {
	ID           string                `json:"id"`
	OriginalText string                `json:"original_text"`
	Text         string                `json:"text"`
	Occurrences  []tokenmap.Occurrence `json:"occurrences"`
	Map          *tokenmap.TokenMap    `json:"token_map"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New returns a session with a random id. Timestamps are set by Store.Put.
func New(original, text string, occs []tokenmap.Occurrence, m *tokenmap.TokenMap) *Session {
	return &Session{
		ID:           uuid.NewString(),
		OriginalText: original,
		Text:         text,
		Occurrences:  occs,
		Map:          m,
	}
}

// Clone returns a deep copy. Mutating the clone never affects s.
func (s *Session) Clone() *Session {
	c := *s
	c.Occurrences = append([]tokenmap.Occurrence(nil), s.Occurrences...)
	if s.Map != nil {
		c.Map = s.Map.Clone()
	}
	return &c
}

// Expired reports whether s has passed its expiry at now. A session that was
// never stored has no expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// stamp records a write at now.
func (s *Session) stamp(now time.Time, ttl time.Duration) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.ExpiresAt = now.Add(ttl)
}

// Store persists sessions by id. Implementations are safe for concurrent
// use; they do not serialize read-modify-write cycles on one session, which
// is the caller's job.
type Store interface {
	// Put creates or replaces s and refreshes its expiry. The store keeps its
	// own copy.
	Put(ctx context.Context, s *Session) error

	// Get returns a copy of the session with the given id, ErrNotFound or
	// ErrExpired.
	Get(ctx context.Context, id string) (*Session, error)

	// Delete removes the session, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Sweep removes every expired session and returns how many it removed.
	Sweep(ctx context.Context) (int, error)

	// Len returns the number of stored sessions, expired ones included.
	Len() int

	// Close releases the store's resources.
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RunSweeper removes expired sessions every interval until ctx is cancelled.
func RunSweeper(ctx context.Context, s Store, interval time.Duration, log *logger.Logger, m *metrics.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				log.Warnf("sweep", "session sweep failed: %v", err)
				continue
			}
			if n > 0 {
				if m != nil {
					m.SessionsExpired.Add(int64(n))
				}
				log.Infof("sweep", "removed %d expired sessions", n)
			}
		}
	}
}
