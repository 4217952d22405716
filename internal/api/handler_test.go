package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"agegate/internal/notify"
	"agegate/internal/session"
	"agegate/internal/verify"

	"github.com/iden3/iden3comm/v2/protocol"
)

// verifierStub records invocations and returns a canned outcome.
type verifierStub struct {
	mu     sync.Mutex
	calls  int
	tokens []string
	err    error
}

func (s *verifierStub) FullVerify(_ context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error) {
	s.mu.Lock()
	s.calls++
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	return &protocol.AuthorizationResponseMessage{ID: request.ID, ThreadID: request.ThreadID}, nil
}

func (s *verifierStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type testEnv struct {
	handler *Handler
	store   *session.MemoryStore
	broker  *notify.Broker
	mux     *http.ServeMux
}

func newTestEnv(v verify.Verifier, streamTTL time.Duration) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := session.NewMemoryStore(time.Minute, time.Minute)
	broker := notify.NewBroker(log)
	builder := verify.NewChallengeBuilder("did:example:verifier", "age verification", verify.Query{
		CircuitID:      "credentialAtomicQuerySigV2",
		AllowedIssuers: []string{"*"},
		CredentialType: "KYCAgeCredential",
		Context:        "ipfs://QmbxZWEDsAxhyz7vWHcoqtfnmppJz34qroUpaFXUMeiBHQ",
		Field:          "birthday",
		Operator:       "$lt",
		Value:          20050101,
	})

	h := NewHandler(log, Config{
		ExternalURL:       "http://localhost:8009",
		StreamMaxLifetime: streamTTL,
	}, store, broker, builder, v)

	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{handler: h, store: store, broker: broker, mux: mux}
}

func (e *testEnv) signIn(t *testing.T) signInBody {
	t.Helper()

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sign-in", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sign-in status=%d body=%s", rec.Code, rec.Body)
	}

	var body signInBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode sign-in: %v", err)
	}
	return body
}

func (e *testEnv) callback(sessionID, token string) *httptest.ResponseRecorder {
	target := "/api/callback"
	if sessionID != "" {
		target += "?sessionId=" + sessionID
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, target, strings.NewReader(token)))
	return rec
}

// signInBody mirrors the sign-in response for assertions.
type signInBody struct {
	Request   protocol.AuthorizationRequestMessage `json:"request"`
	SessionID string                               `json:"sessionId"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body, err)
	}
	return body.Error
}

func TestSignIn(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&verifierStub{}, time.Minute)

	body := env.signIn(t)
	if body.SessionID == "" {
		t.Fatalf("missing sessionId")
	}
	if body.Request.ID != body.SessionID || body.Request.ThreadID != body.SessionID {
		t.Fatalf("challenge id=%q thid=%q want %q", body.Request.ID, body.Request.ThreadID, body.SessionID)
	}
	want := "http://localhost:8009/api/callback?sessionId=" + body.SessionID
	if body.Request.Body.CallbackURL != want {
		t.Fatalf("callback=%q want %q", body.Request.Body.CallbackURL, want)
	}

	sess, err := env.store.Get(context.Background(), body.SessionID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.Status != session.StatusPending {
		t.Fatalf("status=%q want PENDING", sess.Status)
	}
}

func TestSignIn_DistinctSessions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&verifierStub{}, time.Minute)

	a := env.signIn(t)
	b := env.signIn(t)
	if a.SessionID == b.SessionID {
		t.Fatalf("expected distinct ids, got %q twice", a.SessionID)
	}

	// Identical challenges apart from the correlated parts.
	a.Request.ID, a.Request.ThreadID = "", ""
	b.Request.ID, b.Request.ThreadID = "", ""
	a.Request.Body.CallbackURL, b.Request.Body.CallbackURL = "", ""
	aJSON, _ := json.Marshal(a.Request)
	bJSON, _ := json.Marshal(b.Request)
	if string(aJSON) != string(bJSON) {
		t.Fatalf("challenges differ structurally:\n%s\n%s", aJSON, bJSON)
	}
}

func TestCallback_MissingSessionID(t *testing.T) {
	t.Parallel()

	env := newTestEnv(&verifierStub{}, time.Minute)

	rec := env.callback("", "token")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Missing sessionId" {
		t.Fatalf("error=%q", msg)
	}
}

func TestCallback_UnknownSession(t *testing.T) {
	t.Parallel()

	stub := &verifierStub{}
	env := newTestEnv(stub, time.Minute)

	rec := env.callback("never-created", "token")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Session not found" {
		t.Fatalf("error=%q", msg)
	}
	if stub.callCount() != 0 {
		t.Fatalf("verifier invoked for unknown session")
	}
}

func TestCallback_Success(t *testing.T) {
	t.Parallel()

	stub := &verifierStub{}
	env := newTestEnv(stub, time.Minute)

	created := env.signIn(t)
	rec := env.callback(created.SessionID, "  jwz-token  \n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}

	var resp protocol.AuthorizationResponseMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != created.SessionID {
		t.Fatalf("response id=%q want %q", resp.ID, created.SessionID)
	}

	sess, err := env.store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != session.StatusDone || sess.Result == nil {
		t.Fatalf("status=%q result=%v want DONE with payload", sess.Status, sess.Result)
	}

	// The token reaches the verifier opaque, whitespace-trimmed only.
	if len(stub.tokens) != 1 || stub.tokens[0] != "jwz-token" {
		t.Fatalf("tokens=%q", stub.tokens)
	}
}

func TestCallback_VerificationFailure(t *testing.T) {
	t.Parallel()

	stub := &verifierStub{err: errors.New("proof rejected")}
	env := newTestEnv(stub, time.Minute)

	created := env.signIn(t)
	rec := env.callback(created.SessionID, "bad-token")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d want 500", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "proof rejected" {
		t.Fatalf("error=%q", msg)
	}

	sess, err := env.store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != session.StatusError || sess.Error != "proof rejected" {
		t.Fatalf("status=%q error=%q", sess.Status, sess.Error)
	}
	if sess.Result != nil {
		t.Fatalf("ERROR session carries a result")
	}
}

func TestCallback_ReplayRejectedWithoutReverification(t *testing.T) {
	t.Parallel()

	stub := &verifierStub{}
	env := newTestEnv(stub, time.Minute)

	created := env.signIn(t)
	if rec := env.callback(created.SessionID, "token"); rec.Code != http.StatusOK {
		t.Fatalf("first callback status=%d", rec.Code)
	}

	rec := env.callback(created.SessionID, "token")
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay status=%d want 409", rec.Code)
	}
	if stub.callCount() != 1 {
		t.Fatalf("verifier invoked %d times, want 1", stub.callCount())
	}

	// Original outcome unchanged.
	sess, err := env.store.Get(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Status != session.StatusDone {
		t.Fatalf("status=%q want DONE", sess.Status)
	}
}
