package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	require.NoError(t, s.Set([]byte("a"), []byte("1")))
	require.NoError(t, s.Set([]byte("b"), []byte("2")))
	require.NoError(t, s.Set([]byte("a"), []byte("3")))

	data, found := s.Get([]byte("a"))
	assert.True(t, found)
	assert.Equal(t, []byte("3"), data)
	assert.Equal(t, uint64(2), s.Count())

	seen := make(map[string]string)
	require.NoError(t, s.Iterate(func(key, data []byte) bool {
		seen[string(key)] = string(data)
		return true
	}))
	assert.Equal(t, map[string]string{"a": "3", "b": "2"}, seen)

	s.Delete([]byte("a"))
	_, found = s.Get([]byte("a"))
	assert.False(t, found)

	require.NoError(t, s.Close())
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestPogrebStore(t *testing.T) {
	s, err := NewPogrebStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	testStore(t, s)
}
