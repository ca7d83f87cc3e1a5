// Package attestation turns a verifier's evaluation result into a signed,
// submittable record. Signing and chain submission are separate legs: a
// signing failure fails the attestation, while a submission failure leaves a
// locally valid attestation whose submission status records the error.
package attestation
