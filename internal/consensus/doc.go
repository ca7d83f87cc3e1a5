// Package consensus reduces a set of attestations for one submission into a
// verdict using a threshold/quorum rule, and coordinates the concurrent
// verifier round that produces those attestations.
package consensus
