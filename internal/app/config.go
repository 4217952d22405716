package app

import (
	"fmt"
	"strings"
	"time"

	"agegate/internal/verify"

	"github.com/iden3/go-circuits/v2"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// ExternalURL is the base URL wallets reach this server on; the callback
	// URL in every challenge is derived from it.
	ExternalURL string

	// AllowedOrigin is the CORS allow-origin value. The API serves a
	// cross-origin SPA, so the default is permissive.
	AllowedOrigin string

	// Audience is the verifier's DID, the party challenges are issued from.
	Audience string
	// Reason is the human-readable purpose embedded in every challenge.
	Reason string

	// Challenge query knobs.
	CircuitID         string
	AllowedIssuers    []string
	CredentialType    string
	CredentialContext string
	PredicateField    string
	PredicateOperator string
	PredicateValue    int64

	// Trust-anchor resolvers, "namespace=rpcURL|contractAddr" comma separated.
	StateResolvers string

	CircuitsDir          string
	IPFSGatewayURL       string
	StateTransitionDelay time.Duration

	SessionIdleTTL   time.Duration
	SessionRetention time.Duration
	SweepInterval    time.Duration

	StreamMaxLifetime time.Duration
	MaxTokenBytes     int64
}

// LoadConfig loads Config from environment variables with defaults.
//
// The resolver, audience, and query defaults mirror the demo deployment so a
// bare `agegate` run verifies against Polygon Amoy and Privado mainnet.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("AGEGATE_HTTP_ADDR", "0.0.0.0:8009"),
		LogLevel: EnvString("AGEGATE_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("AGEGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("AGEGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("AGEGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("AGEGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		ExternalURL:   EnvString("AGEGATE_EXTERNAL_URL", "http://localhost:8009"),
		AllowedOrigin: EnvString("AGEGATE_ALLOWED_ORIGIN", "*"),

		Audience: EnvString("AGEGATE_AUDIENCE_DID",
			"did:polygonid:polygon:amoy:2qQ68JkRcf3xrHPQPWZei3YeVzHPP58wYNxx2mEouR"),
		Reason: EnvString("AGEGATE_CHALLENGE_REASON", "age verification"),

		CircuitID:         EnvString("AGEGATE_CIRCUIT_ID", string(circuits.AtomicQuerySigV2CircuitID)),
		AllowedIssuers:    EnvCSV("AGEGATE_ALLOWED_ISSUERS", "*"),
		CredentialType:    EnvString("AGEGATE_CREDENTIAL_TYPE", "KYCAgeCredential"),
		CredentialContext: EnvString("AGEGATE_CREDENTIAL_CONTEXT", "ipfs://QmbxZWEDsAxhyz7vWHcoqtfnmppJz34qroUpaFXUMeiBHQ"),
		PredicateField:    EnvString("AGEGATE_PREDICATE_FIELD", "birthday"),
		PredicateOperator: EnvString("AGEGATE_PREDICATE_OPERATOR", "$lt"),
		PredicateValue:    EnvInt64("AGEGATE_PREDICATE_VALUE", 20050101),

		StateResolvers: EnvString("AGEGATE_STATE_RESOLVERS",
			"polygon:amoy=https://rpc-amoy.polygon.technology/|0x1a4cC30f2aA0377b0c3bc9848766D90cb4404124,"+
				"privado:main=https://rpc-mainnet.privado.id|0x3C9acB2205Aa72A05F6D77d708b5Cf85FCa3a896"),

		CircuitsDir:          EnvString("AGEGATE_CIRCUITS_DIR", "./keys"),
		IPFSGatewayURL:       EnvString("AGEGATE_IPFS_GATEWAY_URL", "https://ipfs.io"),
		StateTransitionDelay: EnvDuration("AGEGATE_STATE_TRANSITION_DELAY", 5*time.Minute),

		SessionIdleTTL:   EnvDuration("AGEGATE_SESSION_IDLE_TTL", 5*time.Minute),
		SessionRetention: EnvDuration("AGEGATE_SESSION_RETENTION", 2*time.Minute),
		SweepInterval:    EnvDuration("AGEGATE_SWEEP_INTERVAL", 30*time.Second),

		StreamMaxLifetime: EnvDuration("AGEGATE_STREAM_MAX_LIFETIME", 5*time.Minute),
		MaxTokenBytes:     EnvInt64("AGEGATE_MAX_TOKEN_BYTES", 1<<20),
	}
}

// Query assembles the challenge query from config.
func (c Config) Query() verify.Query {
	return verify.Query{
		CircuitID:      c.CircuitID,
		AllowedIssuers: c.AllowedIssuers,
		CredentialType: c.CredentialType,
		Context:        c.CredentialContext,
		Field:          c.PredicateField,
		Operator:       c.PredicateOperator,
		Value:          c.PredicateValue,
	}
}

// ParseResolvers parses the StateResolvers value into trust-anchor entries.
// Format: "namespace=rpcURL|contractAddr" pairs, comma separated.
func ParseResolvers(raw string) ([]verify.Resolver, error) {
	var out []verify.Resolver

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		namespace, target, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("resolver %q: want namespace=rpcURL|contractAddr", entry)
		}
		rpcURL, contract, ok := strings.Cut(target, "|")
		if !ok {
			return nil, fmt.Errorf("resolver %q: missing contract address", entry)
		}

		namespace = strings.TrimSpace(namespace)
		rpcURL = strings.TrimSpace(rpcURL)
		contract = strings.TrimSpace(contract)
		if namespace == "" || rpcURL == "" || contract == "" {
			return nil, fmt.Errorf("resolver %q: empty field", entry)
		}

		out = append(out, verify.Resolver{
			Namespace:       namespace,
			RPCURL:          rpcURL,
			ContractAddress: contract,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no state resolvers configured")
	}
	return out, nil
}
