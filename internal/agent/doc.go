// Package agent contains the actors of the verification network. A Worker
// scans inventory, builds a PoA package, stores it under its content address
// and announces it on chain. A Verifier evaluates a package with its
// specialization profile and produces a signed attestation. A Network fetches
// a stored package, fans it out to the verifier population, aggregates the
// verdict and records the round in the ledger.
package agent
