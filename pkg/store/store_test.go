package store

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()

	_, ok, err := m.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set("memories", []string{"likes jazz"}))

	raw, ok, err := m.Get("memories")
	require.NoError(t, err)
	require.True(t, ok)

	var got []string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []string{"likes jazz"}, got)
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Set("k", "v"))

	raw, _, err := m.Get("k")
	require.NoError(t, err)
	raw[0] = 'X'

	again, _, err := m.Get("k")
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage(`"v"`), again)
}

func TestFileRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := NewFile(fs, "/state")
	require.NoError(t, err)

	_, ok, err := f.Get("tasks")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Set("tasks", []string{"water plants"}))
	require.NoError(t, f.Set("memories", []string{"prefers tea"}))

	raw, ok, err := f.Get("tasks")
	require.NoError(t, err)
	require.True(t, ok)
	var got []string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []string{"water plants"}, got)

	keys, err := f.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"memories", "tasks"}, keys)
}

func TestFileOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := NewFile(fs, "/state")
	require.NoError(t, err)

	require.NoError(t, f.Set("drafts", []string{"one"}))
	require.NoError(t, f.Set("drafts", []string{"one", "two"}))

	raw, ok, err := f.Get("drafts")
	require.NoError(t, err)
	require.True(t, ok)
	var got []string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Len(t, got, 2)
}

func TestFileRejectsUnsafeKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	f, err := NewFile(fs, "/state")
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "a/b", "a b"} {
		assert.Error(t, f.Set(key, "x"), "key %q", key)
		_, _, err := f.Get(key)
		assert.Error(t, err, "key %q", key)
	}
}
