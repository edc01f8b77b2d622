package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"redactflow/internal/logger"
)

const sessionsBucket = "sessions"

// BoltStore keeps sessions in an embedded bbolt database so they survive
// restarts. Sessions are stored as JSON, token map included.
type BoltStore struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
	log *logger.Logger
}

// OpenBoltStore opens (or creates) the database at path.
func OpenBoltStore(path string, ttl time.Duration, log *logger.Logger, opts ...Option) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open session store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bucket %s: %w", sessionsBucket, err)
	}

	o := buildOptions(opts)
	log.Infof("store_open", "session store opened at %s", path)
	return &BoltStore{db: db, ttl: ttl, now: o.now, log: log}, nil
}

// Put implements Store.
func (s *BoltStore) Put(ctx context.Context, sess *Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *sess
	c.stamp(s.now(), s.ttl)

	raw, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", c.ID, err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put([]byte(c.ID), raw)
	}); err != nil {
		return fmt.Errorf("store session %s: %w", c.ID, err)
	}

	sess.CreatedAt, sess.UpdatedAt, sess.ExpiresAt = c.CreatedAt, c.UpdatedAt, c.ExpiresAt
	return nil
}

// Get implements Store.
func (s *BoltStore) Get(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(sessionsBucket)).Get([]byte(id)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	if now := s.now(); sess.Expired(now) {
		if err := s.removeIfExpired(id, now); err != nil {
			s.log.Warnf("expire", "removing expired session: %v", err)
		}
		return nil, ErrExpired
	}
	return &sess, nil
}

// Delete implements Store.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// removeIfExpired deletes id only if the stored record is still expired at
// now. A Put landing after Get's read has refreshed it and must survive.
func (s *BoltStore) removeIfExpired(id string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))
		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}
		if expired, err := recordExpired(v, now); err == nil && !expired {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

// recordExpired decodes only the expiry field of a stored session.
func recordExpired(v []byte, now time.Time) (bool, error) {
	var head struct {
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(v, &head); err != nil {
		return false, err
	}
	return !head.ExpiresAt.IsZero() && !now.Before(head.ExpiresAt), nil
}

// Sweep implements Store. Only the expiry field of each record is decoded;
// undecodable records are removed too.
func (s *BoltStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(sessionsBucket))

		var stale [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			expired, err := recordExpired(v, now)
			if err != nil {
				s.log.Warnf("sweep", "dropping undecodable session %s: %v", k, err)
			}
			if err != nil || expired {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(stale)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

// Len implements Store.
func (s *BoltStore) Len() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket([]byte(sessionsBucket)).Stats().KeyN
		return nil
	})
	return n
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
