package consensus_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa/poatest"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
)

type engineVerifier struct {
	id       attestation.Identity
	engine   *evaluation.Engine
	producer *attestation.Producer
}

func newEngineVerifier(name string, spec evaluation.Specialization) *engineVerifier {
	return &engineVerifier{
		id:       attestation.Identity{AgentID: name, Specialization: spec},
		engine:   evaluation.ForSpecialization(spec),
		producer: attestation.NewProducer(proofs.NewSimulatedSigner(name), nil),
	}
}

func (v *engineVerifier) Identity() attestation.Identity { return v.id }

func (v *engineVerifier) Verify(ctx context.Context, pkg *poa.Package) attestation.Attestation {
	return v.producer.Produce(ctx, v.id, pkg, v.engine.Evaluate(pkg))
}

type stuckVerifier struct {
	id      attestation.Identity
	release chan struct{}
}

func (v *stuckVerifier) Identity() attestation.Identity { return v.id }

func (v *stuckVerifier) Verify(_ context.Context, pkg *poa.Package) attestation.Attestation {
	<-v.release
	att := attestation.Attestation{SubmissionID: pkg.SubmissionID, Status: attestation.StatusCompleted}
	att.Decision = true
	return att
}

type countingVerifier struct {
	id      attestation.Identity
	active  *atomic.Int32
	maxSeen *atomic.Int32
}

func (v *countingVerifier) Identity() attestation.Identity { return v.id }

func (v *countingVerifier) Verify(_ context.Context, pkg *poa.Package) attestation.Attestation {
	n := v.active.Add(1)
	for {
		seen := v.maxSeen.Load()
		if n <= seen || v.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	v.active.Add(-1)
	att := attestation.Attestation{SubmissionID: pkg.SubmissionID, Status: attestation.StatusCompleted}
	att.Decision = true
	att.OverallScore = 0.9
	return att
}

func population() []consensus.Verifier {
	return []consensus.Verifier{
		newEngineVerifier("verifier_electronics_1", evaluation.SpecializationElectronics),
		newEngineVerifier("verifier_electronics_2", evaluation.SpecializationElectronics),
		newEngineVerifier("verifier_inventory_1", evaluation.SpecializationInventory),
		newEngineVerifier("verifier_inventory_2", evaluation.SpecializationInventory),
		newEngineVerifier("verifier_general_1", evaluation.SpecializationGeneral),
	}
}

func TestRunVerifiesCompletePackage(t *testing.T) {
	pkg := poatest.Package("sub-1")
	round := consensus.NewCoordinator(consensus.DefaultConfig()).Run(context.Background(), pkg, population())

	require.Len(t, round.Attestations, 5)
	assert.Equal(t, "sub-1", round.SubmissionID)
	assert.Equal(t, pkg.PackageHash, round.PackageHash)
	assert.Zero(t, round.TimedOut)
	for i, att := range round.Attestations {
		assert.True(t, att.Successful(), "attestation %d: %s", i, att.Error)
		assert.Equal(t, population()[i].Identity().AgentID, att.VerifierAgentID)
	}
	assert.Equal(t, consensus.StateVerified, round.Verdict.State)
	assert.Equal(t, 5, round.Verdict.Approvals)
	assert.False(t, round.CompletedAt.Before(round.StartedAt))
}

func TestRunRejectsEmptyPayloads(t *testing.T) {
	pkg := poatest.Custom("sub-empty", map[string]any{}, map[string]any{})
	round := consensus.NewCoordinator(consensus.DefaultConfig()).Run(context.Background(), pkg, population())

	assert.Equal(t, 5, round.Verdict.SuccessfulEvaluations)
	assert.Zero(t, round.Verdict.Approvals)
	assert.Equal(t, consensus.StateRejected, round.Verdict.State)
}

func TestRunTimesOutStuckVerifiers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	verifiers := population()[:3]
	stuck := &stuckVerifier{id: attestation.Identity{AgentID: "stuck", Specialization: evaluation.SpecializationGeneral}, release: release}
	verifiers = append(verifiers, stuck)

	cfg := consensus.Config{ThresholdPercent: 66, MinimumQuorum: 3, EvaluationTimeout: 200 * time.Millisecond}
	round := consensus.NewCoordinator(cfg).Run(context.Background(), poatest.Package("sub-1"), verifiers)

	require.Len(t, round.Attestations, 4)
	assert.Equal(t, 1, round.TimedOut)
	timedOut := round.Attestations[3]
	assert.Equal(t, attestation.StatusFailed, timedOut.Status)
	assert.Equal(t, xerrors.CodeTimeout, timedOut.ErrorCode)
	assert.Equal(t, "stuck", timedOut.VerifierAgentID)

	assert.Equal(t, 3, round.Verdict.SuccessfulEvaluations)
	assert.Equal(t, 1, round.Verdict.FailedEvaluations)
	assert.True(t, round.Verdict.Verified)
}

func TestRunHonoursConcurrencyLimit(t *testing.T) {
	var active, maxSeen atomic.Int32
	verifiers := make([]consensus.Verifier, 8)
	for i := range verifiers {
		verifiers[i] = &countingVerifier{
			id:      attestation.Identity{AgentID: fmt.Sprintf("v%d", i)},
			active:  &active,
			maxSeen: &maxSeen,
		}
	}

	cfg := consensus.DefaultConfig()
	cfg.MaxConcurrency = 2
	round := consensus.NewCoordinator(cfg).Run(context.Background(), poatest.Package("sub-1"), verifiers)

	assert.Equal(t, 8, round.Verdict.Approvals)
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestRunWithoutVerifiersIsDegenerate(t *testing.T) {
	round := consensus.NewCoordinator(consensus.DefaultConfig()).Run(context.Background(), poatest.Package("sub-1"), nil)
	assert.Empty(t, round.Attestations)
	assert.Equal(t, consensus.StateDegenerate, round.Verdict.State)
}
