package detector

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"redactflow/internal/logger"
)

// Store is the key-value backing of the detection cache. Keys are text
// digests, values encoded span lists. All implementations must be safe for
// concurrent use.
//
// Store errors are logged, not returned: a broken cache degrades to a miss.
type Store interface {
	// Get returns the value stored under key, if present.
	Get(key string) (value string, ok bool)

	// Set stores key -> value, overwriting any existing entry.
	Set(key, value string)

	// Delete removes key. Deleting a missing key is a no-op.
	Delete(key string)

	// Close releases any resources held by the store (e.g. file handles).
	Close() error
}

// --- memoryStore -----------------------------------------------------------

// memoryStore is a thread-safe in-memory Store.
type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{values: make(map[string]string)}
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	return v, ok
}

func (s *memoryStore) Set(key, value string) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *memoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *memoryStore) Close() error { return nil }

// --- boltStore -------------------------------------------------------------

const detectionsBucket = "detections"

// boltStore is a Store backed by an embedded bbolt database, so detection
// results survive restarts.
type boltStore struct {
	db  *bolt.DB
	log *logger.Logger
}

// OpenBoltStore opens (or creates) the bbolt database at path and ensures the
// detections bucket exists.
func OpenBoltStore(path string, log *logger.Logger) (Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open detection cache %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(detectionsBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bucket %s: %w", detectionsBucket, err)
	}

	log.Infof("cache_open", "detection cache opened at %s", path)
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Get(key string) (string, bool) {
	var (
		value string
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(detectionsBucket)).Get([]byte(key)); v != nil {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("cache_get", "bbolt: %v", err)
		return "", false
	}
	return value, found
}

func (s *boltStore) Set(key, value string) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(detectionsBucket)).Put([]byte(key), []byte(value))
	}); err != nil {
		s.log.Errorf("cache_set", "bbolt: %v", err)
	}
}

func (s *boltStore) Delete(key string) {
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(detectionsBucket)).Delete([]byte(key))
	}); err != nil {
		s.log.Errorf("cache_delete", "bbolt: %v", err)
	}
}

func (s *boltStore) Close() error {
	return s.db.Close()
}
