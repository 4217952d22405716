package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"agegate/internal/metrics"
	"agegate/internal/notify"
	"agegate/internal/session"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsCloseWriteTimeout = 5 * time.Second

// handleVerifyStatusWS is the WebSocket status notifier for clients that
// cannot use EventSource. Same contract as the SSE stream: one terminal JSON
// message, then a normal close.
func (h *Handler) handleVerifyStatusWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	// Subscribe before the snapshot, same ordering as the SSE stream.
	streamID, events := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(sessionID, streamID)

	sess, err := h.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The HTTP API is served cross-origin to the wallet frontend; the
		// stream carries no credentials, so origin policy mirrors CORS.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Info("ws.accept.fail", "session_id", sessionID, "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	// No inbound messages are expected; CloseRead surfaces client disconnect
	// through context cancellation.
	ctx := conn.CloseRead(r.Context())

	h.log.Info("ws.stream.open", "session_id", sessionID, "stream_id", streamID)

	if sess.Status.Terminal() {
		h.deliverWS(ctx, conn, sessionID, eventFor(sess))
		return
	}

	timeout := time.NewTimer(h.cfg.StreamMaxLifetime)
	defer timeout.Stop()

	select {
	case ev, ok := <-events:
		if !ok {
			return
		}
		h.deliverWS(ctx, conn, sessionID, ev)
	case <-timeout.C:
		h.writeWS(ctx, conn, notify.Event{Status: string(session.StatusError), Error: "verification timed out"})
		conn.Close(websocket.StatusNormalClosure, "timed out")
		h.log.Info("ws.stream.timeout", "session_id", sessionID, "stream_id", streamID)
	case <-ctx.Done():
		h.log.Info("ws.stream.closed", "session_id", sessionID, "stream_id", streamID)
	}
}

func (h *Handler) deliverWS(ctx context.Context, conn *websocket.Conn, sessionID string, ev notify.Event) {
	if !h.writeWS(ctx, conn, ev) {
		return
	}
	_ = h.store.Delete(context.Background(), sessionID)
	conn.Close(websocket.StatusNormalClosure, "delivered")
	h.log.Info("ws.stream.delivered", "session_id", sessionID, "status", ev.Status)
}

func (h *Handler) writeWS(ctx context.Context, conn *websocket.Conn, ev notify.Event) bool {
	writeCtx, cancel := context.WithTimeout(ctx, wsCloseWriteTimeout)
	defer cancel()

	if err := wsjson.Write(writeCtx, conn, ev); err != nil {
		h.log.Info("ws.write.fail", "err", err)
		return false
	}
	return true
}
