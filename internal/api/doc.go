// Package api exposes the REST surface of the verification network: workers
// submit scans, clients follow the resulting verification rounds and read the
// attestations recorded in the ledger. Prometheus text metrics are served on
// /metrics.
package api
