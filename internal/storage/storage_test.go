package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	kv := NewMemory()

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("k", "v1"))
	value, ok, err := kv.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", value)

	require.NoError(t, kv.Set("k", "v2"))
	value, _, _ = kv.Get("k")
	assert.Equal(t, "v2", value)

	require.NoError(t, kv.Delete("k"))
	_, ok, err = kv.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pond.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	defer kv.Close()

	_, ok, err := kv.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set("queue", `{"a":1}`))
	require.NoError(t, kv.Set("queue", `{"a":2}`))

	value, ok, err := kv.Get("queue")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"a":2}`, value)

	require.NoError(t, kv.Delete("queue"))
	_, ok, _ = kv.Get("queue")
	assert.False(t, ok)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pond.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set("cache", "persisted"))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	value, ok, err := reopened.Get("cache")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", value)
}
