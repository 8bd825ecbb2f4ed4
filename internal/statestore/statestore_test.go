package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(KeyUserID, "alice"))
	require.NoError(t, store.SetBool(KeyIsTracking, true))
	require.NoError(t, store.SetJSON(KeyCurrentLocation, map[string]float64{"lat": 35.1, "lng": 126.8}))

	// A second open sees everything the first one wrote
	reopened, err := Open(path)
	require.NoError(t, err)

	id, ok := reopened.Get(KeyUserID)
	assert.True(t, ok)
	assert.Equal(t, "alice", id)
	assert.True(t, reopened.GetBool(KeyIsTracking))

	var loc map[string]float64
	assert.True(t, reopened.GetJSON(KeyCurrentLocation, &loc))
	assert.Equal(t, 35.1, loc["lat"])
}

func TestMissingFileStartsEmpty(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "nested", "dir", "state.json"))
	require.NoError(t, err)

	_, ok := store.Get(KeyUserID)
	assert.False(t, ok)
	assert.False(t, store.GetBool(KeyIsTracking))
}

func TestCorruptFileFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("}}garbage"), 0o600))

	store, err := Open(path)
	require.NoError(t, err, "a corrupt cache must not crash the client")

	_, ok := store.Get(KeyUserID)
	assert.False(t, ok)

	// And the store is usable again
	require.NoError(t, store.Set(KeyUserID, "alice"))
	id, _ := store.Get(KeyUserID)
	assert.Equal(t, "alice", id)
}

func TestUnparsableJSONValueReadsAsAbsent(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	require.NoError(t, store.Set(KeySharedUsers, "{not json"))

	var out []string
	assert.False(t, store.GetJSON(KeySharedUsers, &out))
	assert.Empty(t, out)
}

func TestDeleteAbsentKeyIsNoop(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	assert.NoError(t, store.Delete(KeyFriends))

	require.NoError(t, store.Set(KeyFriends, "[]"))
	require.NoError(t, store.Delete(KeyFriends))
	_, ok := store.Get(KeyFriends)
	assert.False(t, ok)
}

func TestClearRemovesEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(KeyUserID, "alice"))
	require.NoError(t, store.Set(KeySessionID, "sess"))
	require.NoError(t, store.Clear())

	reopened, err := Open(path)
	require.NoError(t, err)
	_, ok := reopened.Get(KeyUserID)
	assert.False(t, ok)
}
