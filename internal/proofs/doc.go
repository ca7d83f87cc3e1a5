// Package proofs implements the signers that turn canonical attestation
// evidence into verifiable signatures: a secp256k1 signer backed by an
// operator key, and a deterministic simulated signer for networks that run
// without signing material.
package proofs
