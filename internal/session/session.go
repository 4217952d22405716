package session

import (
	"time"

	"github.com/iden3/iden3comm/v2/protocol"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusPending means the challenge was issued and no proof has been decided yet.
	StatusPending Status = "PENDING"
	// StatusDone means the proof was verified successfully.
	StatusDone Status = "DONE"
	// StatusError means verification failed or the session timed out.
	StatusError Status = "ERROR"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Session is one verification attempt.
//
// Result and Error are mutually exclusive and only set together with the
// matching terminal status.
type Session struct {
	ID        string
	Challenge protocol.AuthorizationRequestMessage
	Status    Status
	Result    *protocol.AuthorizationResponseMessage
	Error     string
	CreatedAt time.Time
	DecidedAt time.Time
}
