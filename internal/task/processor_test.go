package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/alerting"
)

type fakeNetwork struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
}

func (f *fakeNetwork) Execute(ctx context.Context, req agent.RoundRequest) (*agent.RoundResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &agent.RoundResult{Round: consensus.Round{
		SubmissionID: req.SubmissionID,
		Verdict: consensus.Verdict{
			SubmissionID:          req.SubmissionID,
			State:                 consensus.StateVerified,
			Verified:              true,
			Approvals:             5,
			SuccessfulEvaluations: 5,
			ApprovalRate:          1,
		},
	}}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

func (d *recordingDispatcher) stages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.Stage)
	}
	return out
}

func testAddress(i int) string {
	return contentstore.Address([]byte(fmt.Sprintf("package-%d", i)))
}

func TestProcessorHandlesConcurrentRounds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	network := &fakeNetwork{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(network, store, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		req := agent.RoundRequest{SubmissionID: fmt.Sprintf("sub-%d", i), ContentAddress: testAddress(i)}
		if _, err := service.Submit(ctx, req); err != nil {
			t.Fatalf("提交轮次失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		stats, err := service.Stats(ctx)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if stats.Succeeded == total {
			if stats.Verified != total {
				t.Fatalf("expected %d verified rounds, got %d", total, stats.Verified)
			}
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("轮次未能及时处理，已完成 %d", network.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestProcessorRetriesRetryableFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	alerts := &recordingDispatcher{}
	network := &fakeNetwork{err: xerrors.New(xerrors.CodeStorageFailure, "ledger down")}

	service := NewService(store, queue, 3)
	processor := NewProcessor(network, store, queue, queue, WithAlertDispatcher(alerts))
	go func() { _ = processor.Start(ctx) }()

	round, err := service.Submit(ctx, agent.RoundRequest{SubmissionID: "sub-retry", ContentAddress: testAddress(1)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	final, err := service.WaitUntilCompleted(ctx, round.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if final.Status != StatusFailed || final.Attempts != 3 {
		t.Fatalf("expected terminal failure after 3 attempts, got %s/%d", final.Status, final.Attempts)
	}
	if final.ErrorCode != string(xerrors.CodeStorageFailure) {
		t.Fatalf("unexpected error code %q", final.ErrorCode)
	}
	if got := network.processed.Load(); got != 3 {
		t.Fatalf("expected 3 executions, got %d", got)
	}
	var stages []string
	for i := 0; i < 50; i++ {
		if stages = alerts.stages(); len(stages) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(stages) != 3 || stages[0] != "retry" || stages[2] != "terminal" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

type stubLookup struct {
	verdict consensus.Verdict
	err     error
}

func (s stubLookup) Verdict(context.Context, string) (consensus.Verdict, error) {
	return s.verdict, s.err
}

func TestProcessorRecoversFromLedger(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	alerts := &recordingDispatcher{}
	network := &fakeNetwork{err: xerrors.New(xerrors.CodeNotFound, "package evicted")}
	recovery := &LedgerRecovery{Ledger: stubLookup{verdict: consensus.Verdict{
		State:                 consensus.StateRejected,
		Approvals:             1,
		SuccessfulEvaluations: 5,
		ApprovalRate:          0.2,
	}}}

	processor := NewProcessor(network, store, queue, queue,
		WithRecoveryHandler(recovery), WithAlertDispatcher(alerts))

	if err := store.Create(ctx, &Task{ID: "r1", SubmissionID: "sub-1", ContentAddress: testAddress(1), Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "r1"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusSucceeded || got.Result == nil || got.Result.VerdictState != consensus.StateRejected {
		t.Fatalf("expected recovered rejected verdict, got %+v", got)
	}
	if stages := alerts.stages(); len(stages) != 1 || stages[0] != "recovered" {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorNonRetryableWithoutRecovery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	network := &fakeNetwork{err: xerrors.New(xerrors.CodeValidation, "hash mismatch")}
	processor := NewProcessor(network, store, queue, queue,
		WithRecoveryHandler(&LedgerRecovery{Ledger: stubLookup{err: xerrors.New(xerrors.CodeNotFound, "missing")}}))

	if err := store.Create(ctx, &Task{ID: "r2", SubmissionID: "sub-2", ContentAddress: testAddress(2), Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := processor.handle(ctx, "r2"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := store.Get(ctx, "r2")
	if got.Status != StatusFailed || got.Attempts != 1 || got.ErrorCode != string(xerrors.CodeValidation) {
		t.Fatalf("expected terminal validation failure, got %+v", got)
	}

	// 已终止的轮次不再被领取。
	if err := processor.handle(ctx, "r2"); err != nil {
		t.Fatalf("terminal round should be skipped, got %v", err)
	}
	if err := processor.handle(ctx, "missing"); err != nil {
		t.Fatalf("missing round should be skipped, got %v", err)
	}
	if n := network.processed.Load(); n != 1 {
		t.Fatalf("expected a single execution, got %d", n)
	}
}
