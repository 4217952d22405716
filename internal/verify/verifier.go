package verify

import (
	"context"

	"github.com/iden3/iden3comm/v2/protocol"
)

// Verifier checks a raw proof token against the challenge it answers.
//
// The token is opaque to callers: it is forwarded exactly as received from
// the wallet. A nil error means the proof satisfied every proof request in
// the challenge and the prover's identity state is acceptably fresh.
type Verifier interface {
	FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error)

// FullVerify implements Verifier.
func (f VerifierFunc) FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error) {
	return f(ctx, token, request)
}
