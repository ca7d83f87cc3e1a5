package web3

import (
	"context"
	"strings"
	"testing"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

func TestSimulatedSubmitterReceipts(t *testing.T) {
	s := NewSimulatedSubmitter("")
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		receipt, err := s.Submit(ctx, []byte(`{"submission_id":"sub-1"}`))
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if len(receipt.TransactionID) != 66 || !strings.HasPrefix(receipt.TransactionID, "0x") {
			t.Fatalf("unexpected transaction id %q", receipt.TransactionID)
		}
		if receipt.ResourceUsed < 200_000 || receipt.ResourceUsed >= 300_000 {
			t.Fatalf("resource used out of range: %d", receipt.ResourceUsed)
		}
		if _, dup := seen[receipt.TransactionID]; dup {
			t.Fatalf("duplicate transaction id %s", receipt.TransactionID)
		}
		seen[receipt.TransactionID] = struct{}{}

		payload, ok := s.Payload(receipt.TransactionID)
		if !ok || string(payload) != `{"submission_id":"sub-1"}` {
			t.Fatalf("payload not recorded: %q", payload)
		}
	}
	if s.Count() != 20 {
		t.Fatalf("expected 20 submissions, got %d", s.Count())
	}

	snapshot, _ := s.FetchChainSnapshot(ctx)
	if snapshot.BlockNumber != "0x14" {
		t.Fatalf("unexpected block number %s", snapshot.BlockNumber)
	}
}

func TestSimulatedSubmitterHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSimulatedSubmitter("sim").Submit(ctx, nil); !xerrors.HasCode(err, xerrors.CodeSubmission) {
		t.Fatalf("expected submission error, got %v", err)
	}
}
