package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/metrics"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
)

// Verifier 组合评估引擎与证明生成器，对单个包给出签名证明。
type Verifier struct {
	identity attestation.Identity
	engine   *evaluation.Engine
	producer *attestation.Producer
	timeout  time.Duration
	clock    func() time.Time
}

// VerifierOption 定义 Verifier 的可选配置。
type VerifierOption func(*Verifier)

// WithVerifyTimeout 限制单次评估与上链的耗时。
func WithVerifyTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithVerifierClock 替换时间来源。
func WithVerifierClock(clock func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if clock != nil {
			v.clock = clock
		}
	}
}

// NewVerifier 创建验证者，专长取自引擎配置。
func NewVerifier(agentID string, engine *evaluation.Engine, producer *attestation.Producer, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		identity: attestation.Identity{AgentID: agentID, Specialization: engine.Profile().Name},
		engine:   engine,
		producer: producer,
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Identity 返回验证者身份。
func (v *Verifier) Identity() attestation.Identity { return v.identity }

// Verify 评估包并生成证明。
func (v *Verifier) Verify(ctx context.Context, pkg *poa.Package) attestation.Attestation {
	if pkg == nil {
		return attestation.Failed(v.identity, "", "",
			xerrors.New(xerrors.CodeInvalidArgument, "包不能为空"), v.clock())
	}
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	result := v.engine.Evaluate(pkg)
	metrics.ObserveEvaluation(string(v.identity.Specialization), result.Decision)

	att := v.producer.Produce(ctx, v.identity, pkg, result)
	if att.Successful() {
		metrics.ObserveChainSubmission("attestation", string(att.Submission.Status))
	}
	return att
}

// VerifierSpec 描述验证者群体中的一类成员。
type VerifierSpec struct {
	Specialization evaluation.Specialization `json:"specialization"`
	Count          int                       `json:"count"`
}

// DefaultPopulation 返回默认的验证者组合：电子类两名、库存类两名、通用一名。
func DefaultPopulation() []VerifierSpec {
	return []VerifierSpec{
		{Specialization: evaluation.SpecializationElectronics, Count: 2},
		{Specialization: evaluation.SpecializationInventory, Count: 2},
		{Specialization: evaluation.SpecializationGeneral, Count: 1},
	}
}

// SignerFactory 为指定验证者返回签名器。
type SignerFactory func(agentID string) (attestation.Signer, error)

// BuildPopulation 按组合创建验证者，标识形如 verifier_<specialization>_<n>。
func BuildPopulation(specs []VerifierSpec, profiles evaluation.ProfileSet, signers SignerFactory, submitter attestation.ChainSubmitter, opts ...VerifierOption) ([]*Verifier, error) {
	if signers == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置签名器")
	}
	if profiles == nil {
		profiles = evaluation.ProfileSet(evaluation.Presets())
	}
	var verifiers []*Verifier
	for _, spec := range specs {
		if spec.Count <= 0 {
			continue
		}
		profile := profiles.Resolve(spec.Specialization)
		if err := profile.Validate(); err != nil {
			return nil, err
		}
		engine := evaluation.New(profile)
		for i := 1; i <= spec.Count; i++ {
			agentID := fmt.Sprintf("verifier_%s_%d", profile.Name, i)
			signer, err := signers(agentID)
			if err != nil {
				return nil, err
			}
			producer := attestation.NewProducer(signer, submitter)
			verifiers = append(verifiers, NewVerifier(agentID, engine, producer, opts...))
		}
	}
	if len(verifiers) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "验证者群体为空")
	}
	return verifiers, nil
}
