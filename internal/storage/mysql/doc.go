// Package mysql persists verification outcomes in MySQL: every attestation
// produced in a round and the verdict reached over them. The ledger applies
// the embedded schema migrations on startup.
package mysql
