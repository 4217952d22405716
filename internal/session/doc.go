// Package session implements the verification-session state machine.
//
// A session tracks one verification attempt from challenge issuance to a
// terminal outcome. Status moves PENDING -> DONE or PENDING -> ERROR exactly
// once; terminal sessions never transition again. The in-memory store is the
// single shared mutable resource in the process and is safe for concurrent
// use by the HTTP handlers and the notifier streams.
//
// Persistence is intentionally out of scope: sessions live only for the
// duration of one verification attempt.
package session
