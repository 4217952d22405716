package session

import "errors"

var (
	// ErrNotFound is returned when a session id does not match any stored session.
	// A missing session is indistinguishable from one that never existed.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyTerminal is returned when a terminal transition is attempted on
	// a session that is already DONE or ERROR. It guards against duplicate or
	// replayed callbacks racing the first one.
	ErrAlreadyTerminal = errors.New("session already terminal")
)
