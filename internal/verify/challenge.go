package verify

import (
	auth "github.com/iden3/go-iden3-auth/v2"
	"github.com/iden3/iden3comm/v2/protocol"
)

// Query describes the single proof request embedded in every challenge:
// which circuit, which credential, and which predicate the wallet must prove.
type Query struct {
	CircuitID      string
	AllowedIssuers []string
	CredentialType string
	Context        string

	// Field/Operator/Value form the comparison predicate, e.g.
	// birthday $lt 20050101 for an age check.
	Field    string
	Operator string
	Value    int64
}

// ChallengeBuilder constructs authorization requests for new sessions.
// It is pure: the only varying inputs are the session id and callback URL
// supplied per call.
type ChallengeBuilder struct {
	audience string
	reason   string
	query    Query
}

// NewChallengeBuilder constructs a builder for a fixed verifier identity and query.
func NewChallengeBuilder(audience, reason string, query Query) *ChallengeBuilder {
	return &ChallengeBuilder{
		audience: audience,
		reason:   reason,
		query:    query,
	}
}

// Build produces the challenge for a session. The session id doubles as the
// request id and thread id so the proof can be correlated on callback.
func (b *ChallengeBuilder) Build(sessionID, callbackURL string) protocol.AuthorizationRequestMessage {
	request := auth.CreateAuthorizationRequest(b.reason, b.audience, callbackURL)
	request.ID = sessionID
	request.ThreadID = sessionID

	request.Body.Scope = append(request.Body.Scope, protocol.ZeroKnowledgeProofRequest{
		ID:        1,
		CircuitID: b.query.CircuitID,
		Query: map[string]interface{}{
			"allowedIssuers": b.query.AllowedIssuers,
			"type":           b.query.CredentialType,
			"context":        b.query.Context,
			b.query.Field: map[string]interface{}{
				b.query.Operator: b.query.Value,
			},
		},
	})

	return request
}
