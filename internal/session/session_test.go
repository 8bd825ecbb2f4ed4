package session

import (
	"encoding/json"
	"sync"
	"testing"

	"safetrack/internal/models"
)

// fakeTransport records emissions and lets tests inject inbound events
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	handlers  map[string]func(json.RawMessage)
	emitted   []emittedEvent
}

type emittedEvent struct {
	event   string
	payload interface{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		connected: true,
		handlers:  make(map[string]func(json.RawMessage)),
	}
}

func (t *fakeTransport) Emit(event string, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitted = append(t.emitted, emittedEvent{event: event, payload: payload})
	return nil
}

func (t *fakeTransport) On(event string, handler func(json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = handler
}

func (t *fakeTransport) Off(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

func (t *fakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// deliver injects an inbound event as the read pump would
func (t *fakeTransport) deliver(tb testing.TB, event string, payload interface{}) {
	tb.Helper()

	data, err := json.Marshal(payload)
	if err != nil {
		tb.Fatalf("marshal %s payload: %v", event, err)
	}

	t.mu.Lock()
	handler, ok := t.handlers[event]
	t.mu.Unlock()

	if !ok {
		tb.Fatalf("no handler registered for %s", event)
	}
	handler(data)
}

// eventsNamed returns all emissions of the given event
func (t *fakeTransport) eventsNamed(name string) []emittedEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []emittedEvent
	for _, e := range t.emitted {
		if e.event == name {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) emitCount(name string) int {
	return len(t.eventsNamed(name))
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeTransport) {
	t.Helper()

	if cfg.UserID == "" {
		cfg.UserID = "alice"
	}
	transport := newFakeTransport()
	client := NewClient(transport, nil, cfg)
	t.Cleanup(client.Close)

	// Bring the client online the way the transport would
	transport.deliver(t, models.EventConnect, nil)
	return client, transport
}

func refIDs(refs []models.UserRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}
