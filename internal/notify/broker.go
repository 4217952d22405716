// Package notify delivers terminal session outcomes to waiting clients.
//
// The callback handler publishes once per session; every stream attached to
// that session receives exactly one Event. Polling the store is not needed:
// the broker is the wake-up path, and late subscribers are satisfied from a
// store snapshot by the transport handlers.
package notify

import (
	"crypto/rand"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the single terminal notification delivered for a session.
type Event struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Broker is an in-memory publish/subscribe fan-out keyed by session id.
//
// Concurrency guarantees:
//   - Subscribe/Unsubscribe are safe under concurrent Publish.
//   - Publish never blocks: every subscriber channel has room for the one
//     terminal event it will ever receive.
type Broker struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string]map[string]chan Event
}

// NewBroker constructs a Broker.
func NewBroker(log *slog.Logger) *Broker {
	return &Broker{
		log:  log,
		subs: make(map[string]map[string]chan Event),
	}
}

// Subscribe registers interest in a session's terminal event.
// The returned channel receives at most one Event and is then closed.
// Callers must Unsubscribe with the returned stream id when done.
func (b *Broker) Subscribe(sessionID string) (string, <-chan Event) {
	streamID := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	ch := make(chan Event, 1)

	b.mu.Lock()
	set := b.subs[sessionID]
	if set == nil {
		set = make(map[string]chan Event)
		b.subs[sessionID] = set
	}
	set[streamID] = ch
	b.mu.Unlock()

	b.log.Debug("notify.subscribe", "session_id", sessionID, "stream_id", streamID)
	return streamID, ch
}

// Unsubscribe removes a stream. Safe to call after Publish or more than once.
func (b *Broker) Unsubscribe(sessionID, streamID string) {
	b.mu.Lock()
	if set, ok := b.subs[sessionID]; ok {
		delete(set, streamID)
		if len(set) == 0 {
			delete(b.subs, sessionID)
		}
	}
	b.mu.Unlock()
}

// Publish delivers the terminal event to every subscriber of the session and
// drops the subscription set: a session decides at most once.
func (b *Broker) Publish(sessionID string, ev Event) {
	b.mu.Lock()
	set := b.subs[sessionID]
	delete(b.subs, sessionID)
	b.mu.Unlock()

	for streamID, ch := range set {
		select {
		case ch <- ev:
		default:
			// Buffer of one was already used; nothing more to deliver.
		}
		close(ch)
		b.log.Debug("notify.publish", "session_id", sessionID, "stream_id", streamID, "status", ev.Status)
	}
}

// Subscribers reports the number of streams attached to a session.
func (b *Broker) Subscribers(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
