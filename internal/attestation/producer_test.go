package attestation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa/poatest"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type failingSigner struct{ err error }

func (s failingSigner) Sign(context.Context, []byte) ([]byte, error) { return nil, s.err }

type flakySubmitter struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
	inner    *web3.SimulatedSubmitter
}

func (s *flakySubmitter) Submit(ctx context.Context, payload []byte) (web3.Receipt, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return web3.Receipt{}, s.err
	}
	return s.inner.Submit(ctx, payload)
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func fixedClock() time.Time { return poatest.FixedTime.Add(time.Minute) }

var verifier = attestation.Identity{AgentID: "verifier_electronics_1", Specialization: evaluation.SpecializationElectronics}

func evaluate(t *testing.T) evaluation.Result {
	t.Helper()
	return evaluation.ForSpecialization(verifier.Specialization).Evaluate(poatest.Package("sub-1"))
}

func TestProduceSignsAndSubmits(t *testing.T) {
	signer, err := proofs.NewKeySigner(testKey)
	require.NoError(t, err)
	chain := web3.NewSimulatedSubmitter("")
	producer := attestation.NewProducer(signer, chain, attestation.WithClock(fixedClock), attestation.WithIDGenerator(func() string { return "att-1" }))

	pkg := poatest.Package("sub-1")
	result := evaluate(t)
	att := producer.Produce(context.Background(), verifier, pkg, result)

	require.True(t, att.Successful(), att.Error)
	assert.Equal(t, "att-1", att.ID)
	assert.Equal(t, "sub-1", att.SubmissionID)
	assert.Equal(t, pkg.PackageHash, att.PackageHash)
	assert.Equal(t, result.OverallScore, att.OverallScore)
	assert.Equal(t, fixedClock().UTC(), att.CreatedAt)

	sig, err := hexutil.Decode(att.Signature)
	require.NoError(t, err)
	assert.True(t, proofs.VerifySignature(signer.Address(), att.Evidence, sig))

	var ev attestation.Evidence
	require.NoError(t, json.Unmarshal(att.Evidence, &ev))
	assert.Equal(t, "sub-1", ev.SubmissionID)
	assert.Equal(t, pkg.PackageHash, ev.PackageHash)
	assert.Equal(t, result.Decision, ev.Decision)
	assert.Equal(t, result.Confidence, ev.EvaluationConfidence)
	assert.Equal(t, "2025-07-14T10:31:00Z", ev.EvaluationTimestamp)

	require.Equal(t, attestation.SubmissionSubmitted, att.Submission.Status)
	require.NotNil(t, att.Submission.Receipt)
	assert.Equal(t, 1, att.Submission.Attempts)
	recorded, ok := chain.Payload(att.Submission.Receipt.TransactionID)
	require.True(t, ok)
	expected, err := attestation.Payload(att)
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(recorded))
}

func TestProduceSigningFailure(t *testing.T) {
	chain := web3.NewSimulatedSubmitter("")
	cases := map[string]attestation.Signer{
		"nil signer":   nil,
		"signer error": failingSigner{err: errors.New("hsm offline")},
		"coded error":  failingSigner{err: xerrors.New(xerrors.CodeSigning, "key missing")},
	}
	for name, signer := range cases {
		t.Run(name, func(t *testing.T) {
			att := attestation.NewProducer(signer, chain).Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
			assert.False(t, att.Successful())
			assert.Equal(t, attestation.StatusFailed, att.Status)
			assert.Equal(t, xerrors.CodeSigning, att.ErrorCode)
			assert.Empty(t, att.Signature)
			assert.Equal(t, attestation.SubmissionSkipped, att.Submission.Status)
		})
	}
	assert.Zero(t, chain.Count())
}

func TestProduceWithoutSubmitterSkipsChain(t *testing.T) {
	att := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), nil).Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
	require.True(t, att.Successful())
	assert.Equal(t, attestation.SubmissionSkipped, att.Submission.Status)
	assert.Nil(t, att.Submission.Receipt)
}

func TestSubmissionRetriesRetryableErrors(t *testing.T) {
	chain := &flakySubmitter{
		failures: 2,
		err:      xerrors.New(xerrors.CodeSubmission, "nonce too low"),
		inner:    web3.NewSimulatedSubmitter(""),
	}
	producer := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), chain,
		attestation.WithSubmitRetries(3), attestation.WithBackOff(noWait))

	att := producer.Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
	require.True(t, att.Successful())
	assert.Equal(t, attestation.SubmissionSubmitted, att.Submission.Status)
	assert.Equal(t, 3, att.Submission.Attempts)
}

func TestSubmissionFailureKeepsAttestation(t *testing.T) {
	t.Run("retries exhausted", func(t *testing.T) {
		chain := &flakySubmitter{failures: 10, err: errors.New("connection refused"), inner: web3.NewSimulatedSubmitter("")}
		producer := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), chain,
			attestation.WithSubmitRetries(2), attestation.WithBackOff(noWait))

		att := producer.Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
		assert.True(t, att.Successful())
		assert.NotEmpty(t, att.Signature)
		assert.Equal(t, attestation.SubmissionFailed, att.Submission.Status)
		assert.Equal(t, xerrors.CodeSubmission, att.Submission.ErrorCode)
		assert.Equal(t, 3, att.Submission.Attempts)
	})

	t.Run("permanent error", func(t *testing.T) {
		chain := &flakySubmitter{
			failures: 10,
			err:      xerrors.New(xerrors.CodeSubmission, "reverted", xerrors.WithRetryable(false)),
			inner:    web3.NewSimulatedSubmitter(""),
		}
		producer := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), chain,
			attestation.WithSubmitRetries(5), attestation.WithBackOff(noWait))

		att := producer.Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
		assert.True(t, att.Successful())
		assert.Equal(t, attestation.SubmissionFailed, att.Submission.Status)
		assert.Equal(t, 1, att.Submission.Attempts)
		assert.Contains(t, att.Submission.Error, "reverted")
	})
}

func TestSimulatedSignerIsDeterministic(t *testing.T) {
	opts := []attestation.Option{attestation.WithClock(fixedClock), attestation.WithIDGenerator(func() string { return "att-1" })}
	a := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), nil, opts...).Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
	b := attestation.NewProducer(proofs.NewSimulatedSigner("seed"), nil, opts...).Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
	assert.Equal(t, a.Signature, b.Signature)
	assert.Equal(t, string(a.Evidence), string(b.Evidence))

	c := attestation.NewProducer(proofs.NewSimulatedSigner("other"), nil, opts...).Produce(context.Background(), verifier, poatest.Package("sub-1"), evaluate(t))
	assert.NotEqual(t, a.Signature, c.Signature)
}

func TestFailedAttestation(t *testing.T) {
	err := xerrors.New(xerrors.CodeTimeout, "evaluation timed out")
	att := attestation.Failed(verifier, "sub-1", "abc", err, poatest.FixedTime)
	assert.False(t, att.Successful())
	assert.Equal(t, xerrors.CodeTimeout, att.ErrorCode)
	assert.Equal(t, "sub-1", att.SubmissionID)
	assert.Equal(t, verifier.AgentID, att.VerifierAgentID)
	assert.NotNil(t, att.Notes)
	assert.False(t, att.Decision)
}
