// Package contentstore persists PoA packages under content addresses. Every
// backend re-verifies the package hash on read so a corrupted or tampered
// object is rejected rather than handed to verifiers.
package contentstore
