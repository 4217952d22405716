package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iden3/iden3comm/v2/protocol"
)

// ChallengeFunc builds the challenge for a freshly minted session id.
// It must be pure: no I/O, no randomness beyond the id it is given.
type ChallengeFunc func(id string) protocol.AuthorizationRequestMessage

// Store abstracts session state for the HTTP handlers and notifier streams.
//
// Implementations must ensure a session transitions out of PENDING at most
// once, concurrently-safe per id.
type Store interface {
	// Create registers a new PENDING session under a fresh id and stores the
	// challenge built from that id.
	Create(ctx context.Context, now time.Time, build ChallengeFunc) (Session, error)

	// Get loads a session by id. Returns ErrNotFound for unknown ids; unknown
	// never means "create implicitly".
	Get(ctx context.Context, id string) (Session, error)

	// Complete transitions a PENDING session to DONE with the verified payload.
	Complete(ctx context.Context, now time.Time, id string, result *protocol.AuthorizationResponseMessage) (Session, error)

	// Fail transitions a PENDING session to ERROR with a failure description.
	Fail(ctx context.Context, now time.Time, id string, message string) (Session, error)

	// Delete evicts a session. Deleting an unknown id is a no-op.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the single-process Store implementation.
//
// A coarse RWMutex over the table is enough at the expected session volume;
// each terminal transition is atomic with respect to its own status check.
type MemoryStore struct {
	idleTTL   time.Duration
	retention time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore constructs a MemoryStore.
//
// idleTTL bounds how long a session may stay PENDING before Sweep forces it
// to ERROR; retention bounds how long a terminal session is kept for late
// notifier attachment before Sweep evicts it.
func NewMemoryStore(idleTTL, retention time.Duration) *MemoryStore {
	return &MemoryStore{
		idleTTL:   idleTTL,
		retention: retention,
		sessions:  make(map[string]*Session),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, now time.Time, build ChallengeFunc) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		Challenge: build(id),
		Status:    StatusPending,
		CreatedAt: now,
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	return *sess, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	s.mu.RLock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.RUnlock()
		return Session{}, ErrNotFound
	}
	out := *sess
	s.mu.RUnlock()

	return out, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, now time.Time, id string, result *protocol.AuthorizationResponseMessage) (Session, error) {
	return s.finish(ctx, now, id, StatusDone, result, "")
}

// Fail implements Store.
func (s *MemoryStore) Fail(ctx context.Context, now time.Time, id string, message string) (Session, error) {
	return s.finish(ctx, now, id, StatusError, nil, message)
}

func (s *MemoryStore) finish(ctx context.Context, now time.Time, id string, status Status, result *protocol.AuthorizationResponseMessage, message string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if sess.Status.Terminal() {
		return *sess, ErrAlreadyTerminal
	}

	sess.Status = status
	sess.Result = result
	sess.Error = message
	sess.DecidedAt = now

	return *sess, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	return nil
}

// Len reports the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep expires abandoned and stale sessions as of now.
//
// PENDING sessions older than idleTTL are forced to ERROR and returned so the
// caller can notify any attached streams. Terminal sessions older than the
// retention window are evicted.
func (s *MemoryStore) Sweep(now time.Time) []Session {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var expired []Session

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		switch {
		case sess.Status == StatusPending && now.Sub(sess.CreatedAt) >= s.idleTTL:
			sess.Status = StatusError
			sess.Error = "verification timed out"
			sess.DecidedAt = now
			expired = append(expired, *sess)
		case sess.Status.Terminal() && !sess.DecidedAt.IsZero() && now.Sub(sess.DecidedAt) >= s.retention:
			delete(s.sessions, id)
		}
	}

	return expired
}
