package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"agegate/internal/metrics"
	"agegate/internal/notify"
	"agegate/internal/session"
)

// handleVerifyStatus is the SSE status notifier. It delivers exactly one
// terminal frame (`data: <json>\n\n`) for the session and closes the stream.
func (h *Handler) handleVerifyStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()

	// Subscribe before the store snapshot: a transition that lands between
	// the two is seen either in the snapshot or on the channel, never missed.
	streamID, events := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(sessionID, streamID)

	sess, err := h.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Info("sse.stream.open", "session_id", sessionID, "stream_id", streamID)

	if sess.Status.Terminal() {
		// Late attachment: the session was decided before this stream opened.
		h.deliverSSE(w, flusher, sessionID, eventFor(sess))
		return
	}

	timeout := time.NewTimer(h.cfg.StreamMaxLifetime)
	defer timeout.Stop()

	select {
	case ev, ok := <-events:
		if !ok {
			return
		}
		h.deliverSSE(w, flusher, sessionID, ev)
	case <-timeout.C:
		writeSSE(w, flusher, notify.Event{Status: string(session.StatusError), Error: "verification timed out"})
		h.log.Info("sse.stream.timeout", "session_id", sessionID, "stream_id", streamID)
	case <-ctx.Done():
		// Client went away; the subscription is released by the deferred
		// Unsubscribe and nothing observes the store for this stream anymore.
		h.log.Info("sse.stream.closed", "session_id", sessionID, "stream_id", streamID)
	}
}

// deliverSSE writes the terminal frame and garbage-collects the session:
// once the outcome reached a notifier the session has served its purpose.
func (h *Handler) deliverSSE(w http.ResponseWriter, flusher http.Flusher, sessionID string, ev notify.Event) {
	writeSSE(w, flusher, ev)
	// Not the request context: eviction should happen even if the client
	// disconnects right after the frame is written.
	_ = h.store.Delete(context.Background(), sessionID)
	h.log.Info("sse.stream.delivered", "session_id", sessionID, "status", ev.Status)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev notify.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}

// eventFor maps an already-terminal session to its notification event.
func eventFor(sess session.Session) notify.Event {
	if sess.Status == session.StatusDone {
		return notify.Event{Status: string(sess.Status), Data: sess.Result}
	}
	return notify.Event{Status: string(sess.Status), Error: sess.Error}
}
