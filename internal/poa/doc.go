// Package poa models the Proof-of-Action package a worker submits for
// verification: the immutable record of an inventory scan together with its
// supporting evidence and the content hash that every verifier re-derives
// before evaluating it.
package poa
