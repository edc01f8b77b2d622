package detector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redactflow/internal/logger"
)

func testStoreContract(t *testing.T, s Store) {
	t.Helper()

	_, ok := s.Get("missing")
	assert.False(t, ok)

	s.Set("k", "v1")
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	s.Set("k", "v2")
	v, _ = s.Get("k")
	assert.Equal(t, "v2", v)

	s.Delete("k")
	s.Delete("k")
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStoreContract(t, s)
	assert.NoError(t, s.Close())
}

func TestBoltStore(t *testing.T) {
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "detections.db"), logger.Nop())
	require.NoError(t, err)
	testStoreContract(t, s)
	assert.NoError(t, s.Close())
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "detections.db")

	s, err := OpenBoltStore(path, logger.Nop())
	require.NoError(t, err)
	s.Set("digest", "[]")
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path, logger.Nop())
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	v, ok := s.Get("digest")
	require.True(t, ok)
	assert.Equal(t, "[]", v)
}

func TestOpenBoltStore_BadPath(t *testing.T) {
	_, err := OpenBoltStore(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), logger.Nop())
	assert.Error(t, err)
}
