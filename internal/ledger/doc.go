// Package ledger defines where verification outcomes are recorded and ships
// the in-memory implementation, optionally backed by a JSON-lines file for
// local runs. The MySQL implementation lives in internal/storage/mysql.
package ledger
