// Package api exposes the verification HTTP surface: challenge issuance,
// the wallet proof callback, and the status push streams.
package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"agegate/internal/metrics"
	"agegate/internal/notify"
	"agegate/internal/session"
	"agegate/internal/verify"

	"github.com/iden3/iden3comm/v2/protocol"
)

const defaultMaxTokenBytes = 1 << 20

// Config carries the handler's fixed wiring: where callbacks land and how
// long a status stream may stay open.
type Config struct {
	// ExternalURL is the public base URL the wallet reaches this server on.
	// The callback URL embedded in every challenge is derived from it.
	ExternalURL string

	// StreamMaxLifetime bounds how long a status stream may wait for a
	// terminal event before it is closed with a timeout error.
	StreamMaxLifetime time.Duration

	// MaxTokenBytes caps the proof token body size. Zero means the default.
	MaxTokenBytes int64
}

// Handler wires the verification endpoints to the session store, the
// notification broker, and the proof verifier.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	store    session.Store
	broker   *notify.Broker
	builder  *verify.ChallengeBuilder
	verifier verify.Verifier
}

// NewHandler constructs the API handler.
func NewHandler(log *slog.Logger, cfg Config, store session.Store, broker *notify.Broker, builder *verify.ChallengeBuilder, verifier verify.Verifier) *Handler {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if cfg.StreamMaxLifetime <= 0 {
		cfg.StreamMaxLifetime = 5 * time.Minute
	}
	if cfg.MaxTokenBytes <= 0 {
		cfg.MaxTokenBytes = defaultMaxTokenBytes
	}

	return &Handler{
		log:      log,
		cfg:      cfg,
		store:    store,
		broker:   broker,
		builder:  builder,
		verifier: verifier,
	}
}

// Register wires verification routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /api/sign-in", h.handleSignIn)
	mux.HandleFunc("POST /api/callback", h.handleCallback)
	mux.HandleFunc("GET /api/verify-status", h.handleVerifyStatus)
	mux.HandleFunc("GET /ws/verify-status", h.handleVerifyStatusWS)
}

type signInResponse struct {
	Request   protocol.AuthorizationRequestMessage `json:"request"`
	SessionID string                               `json:"sessionId"`
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Create(r.Context(), time.Now().UTC(), func(id string) protocol.AuthorizationRequestMessage {
		return h.builder.Build(id, h.callbackURL(id))
	})
	if err != nil {
		h.log.Error("signin.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	metrics.SessionsCreated.Inc()
	h.log.Info("signin.session.created", "session_id", sess.ID)

	writeJSON(w, http.StatusOK, signInResponse{Request: sess.Challenge, SessionID: sess.ID})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing sessionId")
		return
	}

	ctx := r.Context()

	sess, err := h.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sess.Status.Terminal() {
		// Duplicate or replayed submission; the verifier is not re-invoked
		// and the original outcome stands.
		writeError(w, http.StatusConflict, "Session already decided")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxTokenBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read token")
		return
	}
	token := strings.TrimSpace(string(raw))

	response, verr := h.verifier.FullVerify(ctx, token, sess.Challenge)
	now := time.Now().UTC()

	if verr != nil {
		h.failSession(w, r, sessionID, now, verr)
		return
	}

	updated, err := h.store.Complete(ctx, now, sessionID, response)
	if err != nil {
		h.rejectRacedUpdate(w, sessionID, err)
		return
	}

	metrics.Verifications.WithLabelValues("done").Inc()
	h.log.Info("callback.verify.ok", "session_id", sessionID)

	// Publish before responding so any attached stream observes the outcome
	// no later than the synchronous caller does.
	h.broker.Publish(sessionID, notify.Event{Status: string(updated.Status), Data: updated.Result})

	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) failSession(w http.ResponseWriter, r *http.Request, sessionID string, now time.Time, verr error) {
	updated, err := h.store.Fail(r.Context(), now, sessionID, verr.Error())
	if err != nil {
		h.rejectRacedUpdate(w, sessionID, err)
		return
	}

	metrics.Verifications.WithLabelValues("error").Inc()
	h.log.Info("callback.verify.fail", "session_id", sessionID, "err", verr)

	h.broker.Publish(sessionID, notify.Event{Status: string(updated.Status), Error: updated.Error})

	writeError(w, http.StatusInternalServerError, verr.Error())
}

// rejectRacedUpdate maps a failed terminal transition after verification to an
// HTTP status. A lost race against another callback must not mask the prior
// successful transition.
func (h *Handler) rejectRacedUpdate(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, session.ErrAlreadyTerminal):
		writeError(w, http.StatusConflict, "Session already decided")
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "Session not found")
	default:
		h.log.Error("callback.update.fail", "session_id", sessionID, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) callbackURL(sessionID string) string {
	return fmt.Sprintf("%s/api/callback?sessionId=%s",
		strings.TrimRight(h.cfg.ExternalURL, "/"), url.QueryEscape(sessionID))
}
