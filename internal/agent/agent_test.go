package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	"github.com/ChaosChain/chaoschain-dvn/internal/datasource"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/ledger"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/alerting"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
)

var testNow = time.Date(2025, 7, 14, 10, 30, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

type failingStore struct {
	calls atomic.Int32
	err   error
}

func (s *failingStore) Put(context.Context, *poa.Package) (string, error) {
	s.calls.Add(1)
	return "", s.err
}

func (s *failingStore) Get(context.Context, string) (*poa.Package, error) {
	return nil, s.err
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type brokenVerifier struct{ id attestation.Identity }

func (b brokenVerifier) Identity() attestation.Identity { return b.id }

func (b brokenVerifier) Verify(_ context.Context, pkg *poa.Package) attestation.Attestation {
	return attestation.Failed(b.id, pkg.SubmissionID, pkg.PackageHash, xerrors.New(xerrors.CodeSigning, "key unavailable"), testNow)
}

func newTestWorker(store contentstore.Store, opts ...WorkerOption) *Worker {
	source := datasource.NewSimulatedSource(1, datasource.WithSourceClock(testClock))
	opts = append([]WorkerOption{WithWorkerClock(testClock), WithPutBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, opts...)
	return NewWorker("worker_1", source, store, opts...)
}

func simulatedSigners(agentID string) (attestation.Signer, error) {
	return proofs.NewSimulatedSigner(agentID), nil
}

func TestWorkerSubmitStoresAndAnnounces(t *testing.T) {
	store := contentstore.NewMemoryStore()
	chain := web3.NewSimulatedSubmitter("test")
	worker := newTestWorker(store, WithNoticeSubmitter(chain))

	sub, err := worker.Submit(context.Background(), WorkRequest{StoreID: "store_123", Section: "electronics"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.SubmissionID != "store_123_KiranaAI_StockReport_1752489000" {
		t.Fatalf("unexpected submission id %q", sub.SubmissionID)
	}
	if sub.FallbackAddress || !contentstore.ValidAddress(sub.ContentAddress) {
		t.Fatalf("expected content address, got %q (fallback=%v)", sub.ContentAddress, sub.FallbackAddress)
	}
	if sub.ItemsScanned != 1 || sub.WorkerAgentID != "worker_1" || sub.StudioID != poa.DefaultStudioID {
		t.Fatalf("unexpected submission %+v", sub)
	}

	stored, err := store.Get(context.Background(), sub.ContentAddress)
	if err != nil {
		t.Fatalf("get stored package: %v", err)
	}
	if stored.PackageHash != sub.PackageHash {
		t.Fatalf("stored hash %s != %s", stored.PackageHash, sub.PackageHash)
	}

	if sub.Notice == nil {
		t.Fatalf("expected chain notice, got error %q", sub.NoticeError)
	}
	raw, ok := chain.Payload(sub.Notice.TransactionID)
	if !ok {
		t.Fatalf("notice payload not recorded")
	}
	var notice map[string]string
	if err := json.Unmarshal(raw, &notice); err != nil {
		t.Fatalf("decode notice: %v", err)
	}
	if notice["content_address"] != sub.ContentAddress || notice["action_type"] != string(poa.ActionStockReport) {
		t.Fatalf("unexpected notice %+v", notice)
	}
}

func TestWorkerFallsBackToPackageHash(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int32
	}{
		{"retryable", xerrors.New(xerrors.CodeStorageFailure, "bucket unavailable"), 3},
		{"permanent", xerrors.New(xerrors.CodeInvalidArgument, "bad key"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &failingStore{err: tt.err}
			worker := newTestWorker(store, WithPutRetries(2))

			sub, err := worker.Submit(context.Background(), WorkRequest{SubmissionID: "sub-1", StoreID: "store_456", Section: "tablets"})
			if err != nil {
				t.Fatalf("submit should not fail on store errors: %v", err)
			}
			if !sub.FallbackAddress || sub.ContentAddress != sub.PackageHash {
				t.Fatalf("expected hash fallback, got %+v", sub)
			}
			if got := store.calls.Load(); got != tt.wantCalls {
				t.Fatalf("expected %d put calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestWorkerRejectsBadRequests(t *testing.T) {
	worker := newTestWorker(contentstore.NewMemoryStore())

	_, err := worker.Submit(context.Background(), WorkRequest{StoreID: "store_123", ActionType: "KiranaAI_Unknown"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidActionType) {
		t.Fatalf("expected invalid action type, got %v", err)
	}
	_, err = worker.Submit(context.Background(), WorkRequest{Section: "electronics"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := NewWorker("w", nil, nil).Submit(context.Background(), WorkRequest{StoreID: "s"}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestBuildPopulation(t *testing.T) {
	verifiers, err := BuildPopulation(DefaultPopulation(), nil, simulatedSigners, nil)
	if err != nil {
		t.Fatalf("build population: %v", err)
	}
	want := []string{
		"verifier_electronics_1", "verifier_electronics_2",
		"verifier_inventory_1", "verifier_inventory_2",
		"verifier_general_1",
	}
	if len(verifiers) != len(want) {
		t.Fatalf("expected %d verifiers, got %d", len(want), len(verifiers))
	}
	for i, v := range verifiers {
		if v.Identity().AgentID != want[i] {
			t.Fatalf("verifier %d: got %s want %s", i, v.Identity().AgentID, want[i])
		}
	}
	if verifiers[0].Identity().Specialization != evaluation.SpecializationElectronics {
		t.Fatalf("unexpected specialization %s", verifiers[0].Identity().Specialization)
	}

	if _, err := BuildPopulation(nil, nil, simulatedSigners, nil); !xerrors.HasCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected empty population error, got %v", err)
	}
	if _, err := BuildPopulation(DefaultPopulation(), nil, nil, nil); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected missing signer error, got %v", err)
	}
}

func TestVerifierRejectsNilPackage(t *testing.T) {
	v := NewVerifier("verifier_general_1", evaluation.ForSpecialization(evaluation.SpecializationGeneral),
		attestation.NewProducer(proofs.NewSimulatedSigner("x"), nil), WithVerifierClock(testClock))
	att := v.Verify(context.Background(), nil)
	if att.Successful() || att.ErrorCode != xerrors.CodeInvalidArgument {
		t.Fatalf("expected failed attestation, got %+v", att)
	}
}

func asConsensus(vs []*Verifier) []consensus.Verifier {
	out := make([]consensus.Verifier, 0, len(vs))
	for _, v := range vs {
		out = append(out, v)
	}
	return out
}

func TestNetworkExecuteRecordsVerifiedRound(t *testing.T) {
	ctx := context.Background()
	store := contentstore.NewMemoryStore()
	sub, err := newTestWorker(store).Submit(ctx, WorkRequest{StoreID: "store_123", Section: "electronics"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	verifiers, err := BuildPopulation(DefaultPopulation(), nil, simulatedSigners, web3.NewSimulatedSubmitter("attest"))
	if err != nil {
		t.Fatalf("build population: %v", err)
	}
	results, err := ledger.NewMemoryLedger("")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	network := NewNetwork(store, consensus.NewCoordinator(consensus.DefaultConfig()), asConsensus(verifiers), WithLedger(results))

	result, err := network.Execute(ctx, RoundRequest{
		SubmissionID:   sub.SubmissionID,
		ContentAddress: sub.ContentAddress,
		PackageHash:    sub.PackageHash,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	verdict := result.Verdict()
	if !verdict.Verified || verdict.State != consensus.StateVerified || verdict.Approvals != 5 {
		t.Fatalf("unexpected verdict %+v", verdict)
	}

	atts, err := results.Attestations(ctx, sub.SubmissionID)
	if err != nil {
		t.Fatalf("ledger attestations: %v", err)
	}
	if len(atts) != 5 {
		t.Fatalf("expected 5 attestations, got %d", len(atts))
	}
	for _, att := range atts {
		if att.Submission.Status != attestation.SubmissionSubmitted || att.Submission.Receipt == nil {
			t.Fatalf("attestation %s not submitted: %+v", att.VerifierAgentID, att.Submission)
		}
	}
	if len(network.Verifiers()) != 5 {
		t.Fatalf("unexpected verifier identities %+v", network.Verifiers())
	}
}

func TestNetworkExecuteRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	store := contentstore.NewMemoryStore()
	sub, err := newTestWorker(store).Submit(ctx, WorkRequest{StoreID: "store_123", Section: "electronics"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	verifiers, _ := BuildPopulation(DefaultPopulation(), nil, simulatedSigners, nil)
	network := NewNetwork(store, nil, asConsensus(verifiers))

	tests := []struct {
		name string
		req  RoundRequest
		code xerrors.Code
	}{
		{"hash address", RoundRequest{ContentAddress: sub.PackageHash}, xerrors.CodeInvalidArgument},
		{"missing", RoundRequest{ContentAddress: "Qm" + sub.PackageHash[:44]}, xerrors.CodeNotFound},
		{"hash mismatch", RoundRequest{ContentAddress: sub.ContentAddress, PackageHash: "deadbeef"}, xerrors.CodeValidation},
		{"submission mismatch", RoundRequest{ContentAddress: sub.ContentAddress, SubmissionID: "other"}, xerrors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := network.Execute(ctx, tt.req); !xerrors.HasCode(err, tt.code) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}

	if _, err := NewNetwork(store, nil, nil).Execute(ctx, RoundRequest{ContentAddress: sub.ContentAddress}); !xerrors.HasCode(err, xerrors.CodeInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestNetworkAlertsOnDegenerateVerdict(t *testing.T) {
	ctx := context.Background()
	store := contentstore.NewMemoryStore()
	sub, err := newTestWorker(store).Submit(ctx, WorkRequest{StoreID: "store_123", Section: "electronics"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	alerter := &recordingAlerter{}
	broken := []consensus.Verifier{
		brokenVerifier{id: attestation.Identity{AgentID: "v1", Specialization: evaluation.SpecializationGeneral}},
		brokenVerifier{id: attestation.Identity{AgentID: "v2", Specialization: evaluation.SpecializationGeneral}},
	}
	network := NewNetwork(store, nil, broken, WithNetworkAlerts(alerter))

	result, err := network.Execute(ctx, RoundRequest{ContentAddress: sub.ContentAddress})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Verdict().State != consensus.StateDegenerate {
		t.Fatalf("expected degenerate verdict, got %+v", result.Verdict())
	}
	if len(alerter.events) != 1 || alerter.events[0].Code != xerrors.CodeAggregationDegenerate || alerter.events[0].SubmissionID != sub.SubmissionID {
		t.Fatalf("unexpected alerts %+v", alerter.events)
	}
}
