package session

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

func openTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	return store
}

func TestConnectValidatesPersistedSession(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Set(statestore.KeySessionID, "sess-1"))

	transport := newFakeTransport()
	client := NewClient(transport, store, Config{})
	defer client.Close()

	transport.deliver(t, models.EventConnect, nil)

	validations := transport.eventsNamed(models.EventValidateSession)
	require.Len(t, validations, 1)
	assert.Equal(t, models.ValidateSessionPayload{SessionID: "sess-1"}, validations[0].payload)
}

func TestConnectFallsBackToLegacyReconnect(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Set(statestore.KeyUserID, "alice"))
	require.NoError(t, store.SetBool(statestore.KeyIsRegistered, true))

	transport := newFakeTransport()
	client := NewClient(transport, store, Config{})
	defer client.Close()

	transport.deliver(t, models.EventConnect, nil)

	assert.Zero(t, transport.emitCount(models.EventValidateSession))
	reconnects := transport.eventsNamed(models.EventReconnect)
	require.Len(t, reconnects, 1)
	assert.Equal(t, models.ReconnectPayload{UserID: "alice"}, reconnects[0].payload)
}

func TestConnectWithNoCachedIdentityStaysQuiet(t *testing.T) {
	transport := newFakeTransport()
	client := NewClient(transport, openTestStore(t), Config{})
	defer client.Close()

	transport.deliver(t, models.EventConnect, nil)

	assert.Zero(t, transport.emitCount(models.EventValidateSession))
	assert.Zero(t, transport.emitCount(models.EventReconnect))
}

func TestRestoreStateReplacesLedger(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	// Stale optimistic state: sharing with A, pending toward P
	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "a", Name: "A"}},
	})
	require.NoError(t, client.RequestLocationShare("ppp"))

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers:    []models.UserRef{{ID: "b", Name: "B"}},
		ReceivedShares: []models.UserRef{},
	})

	assert.Equal(t, []string{"b"}, refIDs(client.SharedUsers()), "replaced, not merged")
	assert.Empty(t, client.ReceivedShares())
	assert.Empty(t, client.PendingRequests())
}

func TestRestoreStateStopsStaleTracking(t *testing.T) {
	sim := SimulationConfig{
		StartLat:       0,
		StartLng:       0,
		EndLat:         0.01,
		EndLng:         0,
		WalkingSpeed:   1.39,
		UpdateInterval: 5 * time.Millisecond,
		Jitter:         0,
	}
	client, transport := newTestClient(t, Config{Simulation: sim})
	require.NoError(t, client.StartSimulation())

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		IsTracking: false,
	})

	assert.Equal(t, TrackingIdle, client.TrackingState(),
		"server-side tracking intent wins over the local loop")
	assert.Equal(t, 1, transport.emitCount(models.EventStopTracking))
}

func TestRestoreStateNeverAutoResumesTracking(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		IsTracking: true,
	})

	assert.Equal(t, TrackingIdle, client.TrackingState())
	assert.Zero(t, transport.emitCount(models.EventStartTracking))
}

func TestSessionInvalidClearsEverything(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Set(statestore.KeySessionID, "sess-1"))
	require.NoError(t, store.Set(statestore.KeyUserID, "alice"))
	require.NoError(t, store.SetBool(statestore.KeyIsRegistered, true))

	transport := newFakeTransport()
	client := NewClient(transport, store, Config{})
	defer client.Close()
	transport.deliver(t, models.EventConnect, nil)

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "a"}},
	})

	transport.deliver(t, models.EventSessionInvalid, struct{}{})

	assert.False(t, client.Authenticated())
	assert.Empty(t, client.SharedUsers())
	assert.Empty(t, client.SessionID())

	_, hasSession := store.Get(statestore.KeySessionID)
	assert.False(t, hasSession)
	assert.False(t, store.GetBool(statestore.KeyIsRegistered))
}

func TestSessionValidMarksAuthenticated(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Set(statestore.KeySessionID, "sess-1"))

	transport := newFakeTransport()
	client := NewClient(transport, store, Config{})
	defer client.Close()
	transport.deliver(t, models.EventConnect, nil)

	transport.deliver(t, models.EventSessionValid, models.SessionValidPayload{UserID: "alice"})

	assert.True(t, client.Authenticated())
	assert.Equal(t, "alice", client.UserID())
}

func TestLoginSuccessPersistsIdentity(t *testing.T) {
	store := openTestStore(t)
	transport := newFakeTransport()
	client := NewClient(transport, store, Config{})
	defer client.Close()
	transport.deliver(t, models.EventConnect, nil)

	require.NoError(t, client.Login("alice", "hunter22"))
	transport.deliver(t, models.EventLoginSuccess, models.LoginSuccessPayload{
		UserID: "alice", SessionID: "sess-9",
	})

	assert.True(t, client.Authenticated())
	assert.Equal(t, "sess-9", client.SessionID())

	id, _ := store.Get(statestore.KeyUserID)
	assert.Equal(t, "alice", id)
	sid, _ := store.Get(statestore.KeySessionID)
	assert.Equal(t, "sess-9", sid)
	assert.True(t, store.GetBool(statestore.KeyIsRegistered))
}

func TestLoginValidation(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	var verr *ValidationError
	require.ErrorAs(t, client.Login("", ""), &verr)
	require.ErrorAs(t, client.Login("abc", "passwd"), &verr)
	require.ErrorAs(t, client.Login("alice", "pw"), &verr)
	assert.Zero(t, transport.emitCount(models.EventLogin))
}

func TestLogoutClearsState(t *testing.T) {
	store := openTestStore(t)
	transport := newFakeTransport()
	client := NewClient(transport, store, Config{UserID: "alice"})
	defer client.Close()
	transport.deliver(t, models.EventConnect, nil)

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "a"}},
	})

	client.Logout()

	assert.Equal(t, 1, transport.emitCount(models.EventLogout))
	assert.Empty(t, client.SharedUsers())
	assert.Empty(t, client.UserID())
}

func TestDebouncerCoalesces(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	fired := make(chan struct{}, 8)
	for i := 0; i < 5; i++ {
		d.Do(func() { fired <- struct{}{} })
	}

	require.Eventually(t, func() bool {
		return len(fired) == 1
	}, time.Second, 2*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	assert.Len(t, fired, 1, "the burst collapses to the last call")
}
