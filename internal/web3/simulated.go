package web3

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

const (
	simulatedBaseGas  = 200_000
	simulatedGasRange = 100_000
)

// SimulatedSubmitter records payloads in memory and returns receipts shaped
// like real chain receipts: a 0x-prefixed 32 byte transaction id and a gas
// figure in [200000, 300000).
type SimulatedSubmitter struct {
	name  string
	nonce atomic.Uint64

	mu       sync.Mutex
	payloads map[string][]byte
}

// NewSimulatedSubmitter creates an in-memory submitter.
func NewSimulatedSubmitter(name string) *SimulatedSubmitter {
	if name == "" {
		name = "simulated"
	}
	return &SimulatedSubmitter{name: name, payloads: make(map[string][]byte)}
}

// Submit stores the payload and returns a synthetic receipt.
func (s *SimulatedSubmitter) Submit(ctx context.Context, payload []byte) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, xerrors.Wrap(xerrors.CodeSubmission, err, "提交被取消")
	}
	nonce := s.nonce.Add(1)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h := sha256.New()
	h.Write([]byte(s.name))
	h.Write(buf[:])
	h.Write(payload)
	sum := h.Sum(nil)

	txID := "0x" + hex.EncodeToString(sum)
	s.mu.Lock()
	s.payloads[txID] = append([]byte(nil), payload...)
	s.mu.Unlock()

	return Receipt{
		TransactionID: txID,
		ResourceUsed:  simulatedBaseGas + binary.BigEndian.Uint64(sum[:8])%simulatedGasRange,
		BlockNumber:   nonce,
		Chain:         s.name,
	}, nil
}

// Payload returns the payload recorded under a transaction id.
func (s *SimulatedSubmitter) Payload(txID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payloads[txID]
	return p, ok
}

// Count returns the number of recorded submissions.
func (s *SimulatedSubmitter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

// FetchChainSnapshot reports the simulated height.
func (s *SimulatedSubmitter) FetchChainSnapshot(context.Context) (ChainSnapshot, error) {
	return ChainSnapshot{
		ChainID:     "0x0",
		BlockNumber: fmt.Sprintf("0x%x", s.nonce.Load()),
		Notes:       "simulated submitter",
	}, nil
}

// Close is a no-op.
func (s *SimulatedSubmitter) Close() {}

var _ Client = (*SimulatedSubmitter)(nil)
