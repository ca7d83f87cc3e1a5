// Package web3 holds the chain-facing side of the verification network:
// the submission receipt model, the Client contract implemented by concrete
// chains, YAML chain definitions and an in-process simulated submitter used
// when no chain is configured.
package web3
