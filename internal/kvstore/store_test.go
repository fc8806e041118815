package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	A string `json:"a"`
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s1, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Put("connected_apps", []doc{{A: "x"}}))

	s2, err := NewFileStore(dir)
	require.NoError(t, err)

	var got []doc
	ok, err := s2.Get("connected_apps", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []doc{{A: "x"}}, got)
}

func TestFileStoreMissingKey(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	var got doc
	ok, err := s.Get("settings", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreDelete(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Put("k", doc{A: "1"}))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))

	var got doc
	ok, err := s.Get("k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreRejectsPathKeys(t *testing.T) {
	t.Parallel()

	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	assert.ErrorIs(t, s.Put("../escape", doc{}), ErrInvalidKey)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	require.NoError(t, m.Put("k", doc{A: "v"}))

	var got doc
	ok, err := m.Get("k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", got.A)
}
