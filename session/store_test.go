package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetUnknownSessionReturnsEmptyMap(t *testing.T) {
	s := NewMemoryStore()
	data, err := s.Get("missing")
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestMemoryStore_SaveThenGetRoundTrips(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save("sess-1", map[string]string{"user": "alice"}))

	data, err := s.Get("sess-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"user": "alice"}, data)
}

func TestMemoryStore_GetReturnsACopyNotTheLiveMap(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save("sess-1", map[string]string{"user": "alice"}))

	data, _ := s.Get("sess-1")
	data["user"] = "mutated"

	fresh, _ := s.Get("sess-1")
	assert.Equal(t, "alice", fresh["user"])
}

func TestMemoryStore_SaveOverwritesPreviousData(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save("sess-1", map[string]string{"a": "1"}))
	require.NoError(t, s.Save("sess-1", map[string]string{"b": "2"}))

	data, _ := s.Get("sess-1")
	assert.Equal(t, map[string]string{"b": "2"}, data)
}

func TestMemoryStore_IsolatesDistinctSessions(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Save("sess-1", map[string]string{"user": "alice"}))
	require.NoError(t, s.Save("sess-2", map[string]string{"user": "bob"}))

	a, _ := s.Get("sess-1")
	b, _ := s.Get("sess-2")
	assert.Equal(t, "alice", a["user"])
	assert.Equal(t, "bob", b["user"])
}
