package task

import (
	"context"
	"errors"
	"testing"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return errors.New("broker offline") }
func (failingProducer) Close() error                          { return nil }

func TestServiceSubmitValidation(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 0)
	ctx := context.Background()

	for _, address := range []string{"", "QmNotHex", "0xdeadbeef"} {
		_, err := service.Submit(ctx, agent.RoundRequest{SubmissionID: "sub-1", ContentAddress: address})
		if !xerrors.HasCode(err, CodeRoundValidation) {
			t.Fatalf("address %q: expected validation error, got %v", address, err)
		}
	}

	if _, err := NewService(nil, nil, 1).Submit(ctx, agent.RoundRequest{ContentAddress: testAddress(1)}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestServiceSubmitIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(4), 0)
	ctx := context.Background()

	first, err := service.Submit(ctx, agent.RoundRequest{SubmissionID: "sub-1", ContentAddress: testAddress(1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if first.ID != "sub-1" || first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected round %+v", first)
	}
	second, err := service.Submit(ctx, agent.RoundRequest{SubmissionID: "sub-1", ContentAddress: testAddress(2)})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.ContentAddress != first.ContentAddress {
		t.Fatalf("expected existing round to be returned, got %+v", second)
	}

	anonymous, err := service.Submit(ctx, agent.RoundRequest{ContentAddress: testAddress(3)})
	if err != nil {
		t.Fatalf("submit anonymous: %v", err)
	}
	if len(anonymous.ID) != 36 || anonymous.SubmissionID != "" {
		t.Fatalf("expected generated uuid, got %+v", anonymous)
	}
}

func TestServiceSubmitPublishFailure(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 2)
	ctx := context.Background()

	_, err := service.Submit(ctx, agent.RoundRequest{SubmissionID: "sub-9", ContentAddress: testAddress(9)})
	if !xerrors.HasCode(err, CodeRoundPublish) {
		t.Fatalf("expected publish failure, got %v", err)
	}
	round, err := store.Get(ctx, "sub-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if round.Status != StatusFailed || round.ErrorCode != string(CodeRoundPublish) {
		t.Fatalf("expected round marked failed, got %+v", round)
	}
}
