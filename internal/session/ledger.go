package session

import (
	"sync"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

// Ledger mirrors the server-authoritative permission state for one client:
// who can currently see my location (shared), whose location I can see
// (received), and which outgoing requests are unanswered (pending).
//
// It is a projection, never a source of truth: reconciliation replaces its
// contents wholesale whenever an authoritative snapshot arrives. The shared
// and received sets are written through to the local cache so a restart can
// repaint optimistically before reconciliation completes.
type Ledger struct {
	mu       sync.RWMutex
	shared   []models.UserRef
	received []models.UserRef
	pending  map[string]struct{}
	store    *statestore.Store // optional; nil disables persistence
}

// NewLedger creates an empty ledger backed by store (which may be nil)
func NewLedger(store *statestore.Store) *Ledger {
	return &Ledger{
		pending: make(map[string]struct{}),
		store:   store,
	}
}

func refIndex(refs []models.UserRef, id string) int {
	for i, r := range refs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// AddSharedUser records that ref may now see my location. Adding a user
// already present is a no-op, so duplicate event delivery is harmless.
func (l *Ledger) AddSharedUser(ref models.UserRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if refIndex(l.shared, ref.ID) >= 0 {
		return
	}
	l.shared = append(l.shared, ref)
	l.persistSharedLocked()
}

// RemoveSharedUser revokes id's view of my location. Returns whether the
// user was present; removal of an absent user is a no-op.
func (l *Ledger) RemoveSharedUser(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := refIndex(l.shared, id)
	if i < 0 {
		return false
	}
	l.shared = append(l.shared[:i], l.shared[i+1:]...)
	l.persistSharedLocked()
	return true
}

// AddReceivedShare records that ref now shares their location with me
func (l *Ledger) AddReceivedShare(ref models.UserRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if refIndex(l.received, ref.ID) >= 0 {
		return
	}
	l.received = append(l.received, ref)
	l.persistReceivedLocked()
}

// RemoveReceivedShare ends id's share toward me
func (l *Ledger) RemoveReceivedShare(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := refIndex(l.received, id)
	if i < 0 {
		return false
	}
	l.received = append(l.received[:i], l.received[i+1:]...)
	l.persistReceivedLocked()
	return true
}

// MarkPending records an unanswered outgoing request toward id
func (l *Ledger) MarkPending(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending[id] = struct{}{}
}

// ClearPending removes the pending mark for id, if any
func (l *Ledger) ClearPending(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
}

// HasShared reports whether id may currently see my location
func (l *Ledger) HasShared(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return refIndex(l.shared, id) >= 0
}

// HasReceived reports whether I may currently see id's location
func (l *Ledger) HasReceived(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return refIndex(l.received, id) >= 0
}

// IsPending reports whether an outgoing request toward id is unanswered
func (l *Ledger) IsPending(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.pending[id]
	return ok
}

// SharedUsers returns a copy of the outgoing grants in insertion order
func (l *Ledger) SharedUsers() []models.UserRef {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.UserRef, len(l.shared))
	copy(out, l.shared)
	return out
}

// ReceivedShares returns a copy of the incoming grants in insertion order
func (l *Ledger) ReceivedShares() []models.UserRef {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.UserRef, len(l.received))
	copy(out, l.received)
	return out
}

// PendingRequests returns the ids with unanswered outgoing requests
func (l *Ledger) PendingRequests() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.pending))
	for id := range l.pending {
		out = append(out, id)
	}
	return out
}

// Empty reports whether no share relationship exists in either direction
func (l *Ledger) Empty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.shared) == 0 && len(l.received) == 0
}

// Replace overwrites both grant sets with an authoritative snapshot.
// Server state always wins over the local cache; stale optimistic entries
// (and pending marks) are discarded, not merged.
func (l *Ledger) Replace(shared, received []models.UserRef) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shared = append([]models.UserRef(nil), shared...)
	l.received = append([]models.UserRef(nil), received...)
	l.pending = make(map[string]struct{})
	l.persistSharedLocked()
	l.persistReceivedLocked()
}

// Reset empties the ledger and its cached copies
func (l *Ledger) Reset() {
	l.Replace(nil, nil)
}

// RestoreFromCache loads the last persisted grant sets. Unparsable cache
// entries read as empty; this is an optimistic repaint, not truth.
func (l *Ledger) RestoreFromCache() {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var shared []models.UserRef
	if l.store.GetJSON(statestore.KeySharedUsers, &shared) {
		l.shared = shared
	}

	var received []models.UserRef
	if l.store.GetJSON(statestore.KeyReceivedShares, &received) {
		l.received = received
	}
}

func (l *Ledger) persistSharedLocked() {
	if l.store == nil {
		return
	}
	if l.shared == nil {
		l.store.SetJSON(statestore.KeySharedUsers, []models.UserRef{})
		return
	}
	l.store.SetJSON(statestore.KeySharedUsers, l.shared)
}

func (l *Ledger) persistReceivedLocked() {
	if l.store == nil {
		return
	}
	if l.received == nil {
		l.store.SetJSON(statestore.KeyReceivedShares, []models.UserRef{})
		return
	}
	l.store.SetJSON(statestore.KeyReceivedShares, l.received)
}
