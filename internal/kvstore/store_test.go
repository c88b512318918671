package kvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
	}
}

func TestStore_GetMissingKeyYieldsDefault(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(backend, "test", nil)
			got := sample{Name: "untouched"}
			assert.False(t, store.Get("absent", &got))
			assert.Equal(t, "untouched", got.Name)
		})
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(backend, "test", nil)
			require.NoError(t, store.Set("k", sample{Name: "a", Count: 2}))

			var got sample
			require.True(t, store.Get("k", &got))
			assert.Equal(t, sample{Name: "a", Count: 2}, got)

			require.NoError(t, store.Set("k", sample{Name: "b", Count: 3}))
			require.True(t, store.Get("k", &got))
			assert.Equal(t, "b", got.Name)

			require.NoError(t, store.Delete("k"))
			assert.False(t, store.Get("k", &sample{}))
			require.NoError(t, store.Delete("k"), "deleting a missing key is not an error")
		})
	}
}

func TestStore_CorruptValueIsTreatedAsMissing(t *testing.T) {
	for name, backend := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, backend.Put("test:k", []byte("{not json")))
			store := New(backend, "test", nil)
			var got []sample
			assert.False(t, store.Get("k", &got))
			assert.Nil(t, got)
		})
	}
}

func TestStore_ScopesDoNotCollide(t *testing.T) {
	backend := NewMemoryBackend()
	a := New(backend, "a", nil)
	b := New(backend, "b", nil)

	require.NoError(t, a.Set("k", "from-a"))
	var got string
	assert.False(t, b.Get("k", &got))
	require.True(t, a.Get("k", &got))
	assert.Equal(t, "from-a", got)
	assert.Equal(t, 1, backend.Len())
}

func TestStore_ClosedBackendFailsSoftOnRead(t *testing.T) {
	backend := NewMemoryBackend()
	store := New(backend, "", nil)
	require.NoError(t, store.Set("k", 1))
	require.NoError(t, store.Close())

	var got int
	assert.False(t, store.Get("k", &got))
	assert.ErrorIs(t, store.Set("k", 2), ErrClosed)
}

func TestSQLiteBackend_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kv.db")
	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, New(first, "s", nil).Set("k", sample{Name: "kept"}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()
	var got sample
	require.True(t, New(second, "s", nil).Get("k", &got))
	assert.Equal(t, "kept", got.Name)
	assert.Equal(t, path, second.Path())
}
