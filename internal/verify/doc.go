// Package verify builds wallet challenges and checks the proofs that answer
// them.
//
// The challenge is an iden3comm authorization request carrying one
// zero-knowledge proof request; the proof check itself is delegated to a
// Verifier, whose production implementation wraps go-iden3-auth with
// per-namespace on-chain state resolvers.
package verify
