package attestation

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/evaluation"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/proofs"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

const defaultSubmitRetries = 2

// Producer 负责签名评估证据并提交到链上。
type Producer struct {
	signer     Signer
	submitter  ChainSubmitter
	clock      func() time.Time
	newID      func() string
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// Option 定义 Producer 的可选配置。
type Option func(*Producer)

// WithClock 替换时间来源。
func WithClock(clock func() time.Time) Option {
	return func(p *Producer) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithIDGenerator 替换证明 ID 生成函数。
func WithIDGenerator(fn func() string) Option {
	return func(p *Producer) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithSubmitRetries 设置上链失败后的最大重试次数，0 表示不重试。
func WithSubmitRetries(n int) Option {
	return func(p *Producer) {
		if n >= 0 {
			p.maxRetries = uint64(n)
		}
	}
}

// WithBackOff 指定重试间隔策略。
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(p *Producer) {
		if fn != nil {
			p.newBackOff = fn
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(p *Producer) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewProducer 创建 Producer。submitter 为 nil 时跳过上链。
func NewProducer(signer Signer, submitter ChainSubmitter, opts ...Option) *Producer {
	p := &Producer{
		signer:     signer,
		submitter:  submitter,
		clock:      time.Now,
		newID:      uuid.NewString,
		maxRetries: defaultSubmitRetries,
		newBackOff: defaultBackOff,
		logger:     logger.Named("attestation"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return b
}

// Produce 依次完成证据规范化、签名与上链。签名失败时返回 failed 状态且不会上链；
// 上链失败时证明仍为 completed，只在 Submission 中记录错误。
func (p *Producer) Produce(ctx context.Context, id Identity, pkg *poa.Package, result evaluation.Result) Attestation {
	now := p.clock().UTC()
	att := Attestation{
		ID:              p.newID(),
		VerifierAgentID: id.AgentID,
		Specialization:  id.Specialization,
		Result:          result,
		Submission:      Submission{Status: SubmissionSkipped},
		CreatedAt:       now,
	}
	if pkg != nil {
		att.SubmissionID = pkg.SubmissionID
		att.PackageHash = pkg.PackageHash
	}

	evidence, err := codec.Canonicalize(Evidence{
		SubmissionID:         att.SubmissionID,
		PackageHash:          att.PackageHash,
		VerifierAgentID:      id.AgentID,
		Specialization:       id.Specialization,
		StructureValid:       result.StructureValid,
		ContentQualityScore:  result.ContentQualityScore,
		EvidenceQualityScore: result.EvidenceQualityScore,
		OverallScore:         result.OverallScore,
		EvaluationConfidence: result.Confidence,
		Decision:             result.Decision,
		DecisionReason:       result.DecisionReason,
		EvaluationNotes:      nonNil(result.Notes),
		EvaluationTimestamp:  now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return p.fail(att, err)
	}
	att.Evidence = evidence

	if p.signer == nil {
		return p.fail(att, xerrors.New(xerrors.CodeSigning, "未配置签名者"))
	}
	sig, err := p.signer.Sign(ctx, evidence)
	if err != nil {
		if !xerrors.HasCode(err, xerrors.CodeSigning) {
			err = xerrors.Wrap(xerrors.CodeSigning, err, "签名失败")
		}
		return p.fail(att, err)
	}
	att.Signature = proofs.EncodeSignature(sig)
	att.Status = StatusCompleted

	if p.submitter != nil {
		att.Submission = p.submit(ctx, att)
	}

	logger.Audit().Info("证明已生成",
		slog.String("attestation_id", att.ID),
		slog.String("submission_id", att.SubmissionID),
		slog.String("verifier", att.VerifierAgentID),
		slog.String("specialization", string(att.Specialization)),
		slog.Bool("decision", att.Decision),
		slog.Float64("overall_score", att.OverallScore),
		slog.String("submission_status", string(att.Submission.Status)),
	)
	return att
}

// Payload 返回提交到链上的规范化载荷。
func Payload(att Attestation) ([]byte, error) {
	return codec.Canonicalize(map[string]any{
		"attestation_id": att.ID,
		"evidence":       att.Evidence,
		"signature":      att.Signature,
	})
}

func (p *Producer) submit(ctx context.Context, att Attestation) Submission {
	payload, err := Payload(att)
	if err != nil {
		return failedSubmission(err, 0)
	}

	attempts := 0
	policy := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxRetries), ctx)
	receipt, err := backoff.RetryWithData(func() (web3.Receipt, error) {
		attempts++
		r, err := p.submitter.Submit(ctx, payload)
		if err == nil {
			return r, nil
		}
		if _, ok := xerrors.From(err); !ok {
			err = xerrors.Wrap(xerrors.CodeSubmission, err, "上链提交失败")
		}
		if !xerrors.RetryableError(err) {
			return web3.Receipt{}, backoff.Permanent(err)
		}
		p.logger.Warn("上链提交失败，准备重试",
			slog.String("attestation_id", att.ID),
			slog.Int("attempt", attempts),
			slog.Any("error", err))
		return web3.Receipt{}, err
	}, policy)
	if err != nil {
		p.logger.Error("证明上链失败",
			slog.String("attestation_id", att.ID),
			slog.String("submission_id", att.SubmissionID),
			slog.Any("error", err))
		return failedSubmission(err, attempts)
	}
	return Submission{Status: SubmissionSubmitted, Receipt: &receipt, Attempts: attempts}
}

func failedSubmission(err error, attempts int) Submission {
	if !xerrors.HasCode(err, xerrors.CodeSubmission) {
		err = xerrors.Wrap(xerrors.CodeSubmission, err, "上链提交失败")
	}
	return Submission{
		Status:    SubmissionFailed,
		Attempts:  attempts,
		Error:     err.Error(),
		ErrorCode: xerrors.CodeSubmission,
	}
}

func (p *Producer) fail(att Attestation, err error) Attestation {
	att.Status = StatusFailed
	att.Error = err.Error()
	att.ErrorCode = xerrors.CodeOf(err)
	att.Signature = ""
	p.logger.Error("证明生成失败",
		slog.String("submission_id", att.SubmissionID),
		slog.String("verifier", att.VerifierAgentID),
		slog.String("error_code", string(att.ErrorCode)),
		slog.Any("error", err))
	return att
}

func nonNil(notes []string) []string {
	if notes == nil {
		return []string{}
	}
	return notes
}
