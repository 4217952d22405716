package verify

import (
	"context"
	"fmt"
	"time"

	auth "github.com/iden3/go-iden3-auth/v2"
	"github.com/iden3/go-iden3-auth/v2/loaders"
	"github.com/iden3/go-iden3-auth/v2/pubsignals"
	"github.com/iden3/go-iden3-auth/v2/state"
	"github.com/iden3/iden3comm/v2/protocol"
)

// Resolver names one trust anchor: the RPC endpoint and identity-state
// contract for a DID namespace such as "polygon:amoy".
type Resolver struct {
	Namespace       string
	RPCURL          string
	ContractAddress string
}

// Iden3Verifier is the production Verifier backed by go-iden3-auth.
type Iden3Verifier struct {
	inner *auth.Verifier

	// stateTransitionDelay is the acceptance window for identity-state
	// recency, applied per resolver on every verification.
	stateTransitionDelay time.Duration
}

// NewIden3Verifier constructs a verifier with circuit verification keys
// loaded from circuitsDir and one Ethereum state resolver per namespace.
func NewIden3Verifier(circuitsDir string, resolvers []Resolver, ipfsGatewayURL string, stateTransitionDelay time.Duration) (*Iden3Verifier, error) {
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("iden3 verifier: no state resolvers configured")
	}

	set := make(map[string]pubsignals.StateResolver, len(resolvers))
	for _, r := range resolvers {
		set[r.Namespace] = state.NewETHResolver(r.RPCURL, r.ContractAddress)
	}

	var opts []auth.VerifierOption
	if ipfsGatewayURL != "" {
		opts = append(opts, auth.WithIPFSGateway(ipfsGatewayURL))
	}

	inner, err := auth.NewVerifier(loaders.FSKeyLoader{Dir: circuitsDir}, set, opts...)
	if err != nil {
		return nil, fmt.Errorf("iden3 verifier: %w", err)
	}

	return &Iden3Verifier{
		inner:                inner,
		stateTransitionDelay: stateTransitionDelay,
	}, nil
}

// FullVerify implements Verifier.
func (v *Iden3Verifier) FullVerify(ctx context.Context, token string, request protocol.AuthorizationRequestMessage) (*protocol.AuthorizationResponseMessage, error) {
	return v.inner.FullVerify(ctx, token, request,
		pubsignals.WithAcceptedStateTransitionDelay(v.stateTransitionDelay))
}
