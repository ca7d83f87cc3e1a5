package web3

import (
	"context"
)

// ChainSnapshot represents summarized network metadata for health and
// reporting endpoints.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Receipt is the chain's acknowledgement of a submitted payload.
type Receipt struct {
	TransactionID string `json:"transaction_id"`
	ResourceUsed  uint64 `json:"resource_used"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Chain         string `json:"chain,omitempty"`
}

// Client defines what any chain implementation must provide so the worker
// and verifier agents can record PoA notices and attestations uniformly.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	Submit(ctx context.Context, payload []byte) (Receipt, error)
	Close()
}
