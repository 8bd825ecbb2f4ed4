package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrack/internal/models"
)

func TestRequestLocationShareValidation(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	cases := []struct {
		name   string
		target string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"too short", "x"},
		{"too long", strings.Repeat("y", 51)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := client.RequestLocationShare(tc.target)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Zero(t, transport.emitCount(models.EventRequestLocationShare),
				"validation failures must not reach the transport")
			assert.Empty(t, client.PendingRequests())
		})
	}
}

func TestRequestLocationShareMarksPending(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	require.NoError(t, client.RequestLocationShare("bob"))

	assert.Equal(t, 1, transport.emitCount(models.EventRequestLocationShare))
	assert.Equal(t, []string{"bob"}, client.PendingRequests())
}

func TestRequestLocationShareRejectsDuplicateRelations(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	// Pending
	require.NoError(t, client.RequestLocationShare("bob"))
	err := client.RequestLocationShare("bob")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	// Already shared
	transport.deliver(t, models.EventLocationShareResponse, models.ShareResponsePayload{
		TargetUserID: "bob", TargetName: "Bob", Accepted: true,
	})
	err = client.RequestLocationShare("bob")
	require.ErrorAs(t, err, &verr)

	// At most one of pending/shared holds at any time
	assert.True(t, client.ledger.HasShared("bob"))
	assert.False(t, client.ledger.IsPending("bob"))

	assert.Equal(t, 1, transport.emitCount(models.EventRequestLocationShare))
}

func TestRequestLocationShareWhileDisconnected(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventDisconnect, nil)

	err := client.RequestLocationShare("bob")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, transport.emitCount(models.EventRequestLocationShare))
}

func TestShareResponseDeclinedClearsPendingOnly(t *testing.T) {
	client, transport := newTestClient(t, Config{})
	require.NoError(t, client.RequestLocationShare("bob"))

	transport.deliver(t, models.EventLocationShareResponse, models.ShareResponsePayload{
		TargetUserID: "bob", TargetName: "Bob", Accepted: false,
	})

	assert.Empty(t, client.PendingRequests())
	assert.Empty(t, client.SharedUsers())
}

func TestShareRequestErrorClearsPending(t *testing.T) {
	client, transport := newTestClient(t, Config{})
	require.NoError(t, client.RequestLocationShare("bob"))

	transport.deliver(t, models.EventShareRequestError, models.ShareRequestErrorPayload{
		TargetUserID: "bob", Message: "user is offline",
	})

	assert.Empty(t, client.PendingRequests())
	// Not retried: nothing further goes out
	assert.Equal(t, 1, transport.emitCount(models.EventRequestLocationShare))
}

func TestRespondToRequestAccept(t *testing.T) {
	client, transport := newTestClient(t, Config{
		AcceptLocationDelay: 10 * time.Millisecond,
	})

	transport.deliver(t, models.EventLocationShareRequest, models.ShareRequestPayload{
		RequestID: "req-1", From: "bob", FromName: "Bob",
	})
	require.Len(t, client.ShareRequests(), 1)

	require.NoError(t, client.RespondToRequest("req-1", true))

	// Ledger updated before the acceptance goes out, queue drained
	assert.Equal(t, []string{"bob"}, refIDs(client.ReceivedShares()))
	assert.Empty(t, client.ShareRequests())

	responses := transport.eventsNamed(models.EventRespondLocationShare)
	require.Len(t, responses, 1)
	assert.Equal(t, models.RespondSharePayload{RequestID: "req-1", Accepted: true}, responses[0].payload)

	// Current-location fetch follows after the settle delay
	require.Eventually(t, func() bool {
		return transport.emitCount(models.EventRequestCurrentLocation) == 1
	}, time.Second, 2*time.Millisecond)
}

func TestRespondToRequestReject(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventLocationShareRequest, models.ShareRequestPayload{
		RequestID: "req-1", From: "bob", FromName: "Bob",
	})

	require.NoError(t, client.RespondToRequest("req-1", false))

	assert.Empty(t, client.ReceivedShares())
	assert.Empty(t, client.ShareRequests())

	responses := transport.eventsNamed(models.EventRespondLocationShare)
	require.Len(t, responses, 1)
	assert.Equal(t, models.RespondSharePayload{RequestID: "req-1", Accepted: false}, responses[0].payload)
}

func TestRespondToUnknownRequest(t *testing.T) {
	client, _ := newTestClient(t, Config{})

	err := client.RespondToRequest("no-such-request", true)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestInboundRequestTimesOutAsReject(t *testing.T) {
	client, transport := newTestClient(t, Config{
		RequestTimeout: 30 * time.Millisecond,
	})

	transport.deliver(t, models.EventLocationShareRequest, models.ShareRequestPayload{
		RequestID: "req-1", From: "bob", FromName: "Bob",
	})

	require.Eventually(t, func() bool {
		return transport.emitCount(models.EventRespondLocationShare) == 1
	}, time.Second, 2*time.Millisecond)

	responses := transport.eventsNamed(models.EventRespondLocationShare)
	assert.Equal(t, models.RespondSharePayload{RequestID: "req-1", Accepted: false}, responses[0].payload)
	assert.Empty(t, client.ShareRequests())

	// The timer fired once and is gone; no second rejection follows
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, transport.emitCount(models.EventRespondLocationShare))
}

func TestManualResponsePreemptsTimeout(t *testing.T) {
	client, transport := newTestClient(t, Config{
		RequestTimeout: 50 * time.Millisecond,
	})

	transport.deliver(t, models.EventLocationShareRequest, models.ShareRequestPayload{
		RequestID: "req-1", From: "bob", FromName: "Bob",
	})
	require.NoError(t, client.RespondToRequest("req-1", false))

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, transport.emitCount(models.EventRespondLocationShare),
		"the expiry path must not answer an already-resolved request")
}

func TestDuplicateInboundRequestIsDropped(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	req := models.ShareRequestPayload{RequestID: "req-1", From: "bob", FromName: "Bob"}
	transport.deliver(t, models.EventLocationShareRequest, req)
	transport.deliver(t, models.EventLocationShareRequest, req)

	assert.Len(t, client.ShareRequests(), 1)
}

func TestStopReceivingShareCascades(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	// Bidirectional relationship with X
	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers:    []models.UserRef{{ID: "x", Name: "X"}},
		ReceivedShares: []models.UserRef{{ID: "x", Name: "X"}},
	})
	transport.deliver(t, models.EventLocationReceived, models.LocationReceivedPayload{
		UserID: "x", Lat: 1, Lng: 2, Timestamp: "2026-01-01T00:00:00Z",
	})

	require.NoError(t, client.StopReceivingShare("x"))

	assert.Empty(t, client.ReceivedShares())
	assert.Empty(t, client.SharedUsers(), "stopping reception severs the reverse share too")
	assert.Empty(t, client.Locations(), "cached locations for x are purged")

	assert.Equal(t, 1, transport.emitCount(models.EventStopReceivingShare))
	assert.Equal(t, 1, transport.emitCount(models.EventStopLocationShare))
}

func TestStopLocationShareKeepsReceiveDirection(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers:    []models.UserRef{{ID: "x", Name: "X"}},
		ReceivedShares: []models.UserRef{{ID: "x", Name: "X"}},
	})

	require.NoError(t, client.StopLocationShare("x"))

	assert.Empty(t, client.SharedUsers())
	assert.Equal(t, []string{"x"}, refIDs(client.ReceivedShares()),
		"stopping my outgoing share does not touch the incoming one")
}

func TestShareStoppedEventPurgesBothDirections(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers:    []models.UserRef{{ID: "x", Name: "X"}},
		ReceivedShares: []models.UserRef{{ID: "x", Name: "X"}},
	})
	transport.deliver(t, models.EventLocationReceived, models.LocationReceivedPayload{
		UserID: "x", Lat: 1, Lng: 2, Timestamp: "2026-01-01T00:00:00Z",
	})

	transport.deliver(t, models.EventLocationShareStopped, models.ShareStoppedPayload{
		FromUserID: "x", FromName: "X",
	})

	assert.Empty(t, client.SharedUsers())
	assert.Empty(t, client.ReceivedShares())
	assert.Empty(t, client.Locations())
}

func TestChatClearedWhenLastShareEnds(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "x", Name: "X"}},
	})
	transport.deliver(t, models.EventMessageReceived, models.ChatMessagePayload{
		From: "x", To: "alice", Message: "hey",
	})
	require.Len(t, client.ChatMessages(), 1)

	require.NoError(t, client.StopLocationShare("x"))

	assert.Empty(t, client.ChatMessages())
}

func TestChatKeptWhileAnotherShareRemains(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "x"}, {ID: "y"}},
	})
	transport.deliver(t, models.EventMessageReceived, models.ChatMessagePayload{
		From: "y", To: "alice", Message: "hey",
	})

	require.NoError(t, client.StopLocationShare("x"))

	assert.Len(t, client.ChatMessages(), 1)
}

func TestLocationHistoryIsBounded(t *testing.T) {
	client, transport := newTestClient(t, Config{LocationHistory: 3})

	for i := 0; i < 5; i++ {
		transport.deliver(t, models.EventLocationReceived, models.LocationReceivedPayload{
			UserID: "x", Lat: float64(i), Lng: 0,
		})
	}

	locs := client.Locations()
	require.Len(t, locs, 3)
	assert.Equal(t, float64(4), locs[0].Lat, "newest entry first")
}

func TestConcurrentLedgerAccess(t *testing.T) {
	l := NewLedger(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", n)
			l.AddSharedUser(models.UserRef{ID: id})
			l.SharedUsers()
			l.RemoveSharedUser(id)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, l.SharedUsers())
}
