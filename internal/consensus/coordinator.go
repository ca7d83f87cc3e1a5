package consensus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

const tracerName = "github.com/ChaosChain/chaoschain-dvn/internal/consensus"

// Verifier 是参与一轮验证的独立单元。Verify 必须总是返回一条证明，失败时返回 failed 状态。
type Verifier interface {
	Identity() attestation.Identity
	Verify(ctx context.Context, pkg *poa.Package) attestation.Attestation
}

// Round 记录一轮验证的全部证明与最终结论。
type Round struct {
	SubmissionID string                    `json:"submission_id"`
	PackageHash  string                    `json:"package_hash"`
	Attestations []attestation.Attestation `json:"attestations"`
	Verdict      Verdict                   `json:"verdict"`
	TimedOut     int                       `json:"timed_out"`
	StartedAt    time.Time                 `json:"started_at"`
	CompletedAt  time.Time                 `json:"completed_at"`
}

// Coordinator 并发调度验证者并在限定时间内汇总结果。
type Coordinator struct {
	cfg    Config
	clock  func() time.Time
	tracer trace.Tracer
	logger *slog.Logger
}

// CoordinatorOption 定义 Coordinator 的可选配置。
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock 替换时间来源。
func WithCoordinatorClock(clock func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithTracerProvider 指定链路追踪提供者，默认使用全局提供者。
func WithTracerProvider(tp trace.TracerProvider) CoordinatorOption {
	return func(c *Coordinator) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithCoordinatorLogger 指定日志输出。
func WithCoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator 创建 Coordinator。
func NewCoordinator(cfg Config, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		cfg:    cfg.withDefaults(),
		clock:  time.Now,
		tracer: otel.Tracer(tracerName),
		logger: logger.Named("consensus"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Config 返回生效的配置。
func (c *Coordinator) Config() Config {
	return c.cfg
}

// Run 为每个验证者启动一个任务，在 EvaluationTimeout 内等待全部完成。
// 超时未完成的验证者记为 TIMEOUT 失败证明，其余结果交给 Aggregate。
func (c *Coordinator) Run(ctx context.Context, pkg *poa.Package, verifiers []Verifier) Round {
	round := Round{StartedAt: c.clock().UTC()}
	if pkg != nil {
		round.SubmissionID = pkg.SubmissionID
		round.PackageHash = pkg.PackageHash
	}

	ctx, span := c.tracer.Start(ctx, "consensus.round", trace.WithAttributes(
		attribute.String("dvn.submission_id", round.SubmissionID),
		attribute.Int("dvn.verifiers", len(verifiers)),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.EvaluationTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		closed  bool
		results = make([]attestation.Attestation, len(verifiers))
		done    = make([]bool, len(verifiers))
	)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		g, gctx := errgroup.WithContext(runCtx)
		if c.cfg.MaxConcurrency > 0 {
			g.SetLimit(c.cfg.MaxConcurrency)
		}
		for i, v := range verifiers {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				att := c.verify(gctx, pkg, v)
				mu.Lock()
				defer mu.Unlock()
				if !closed {
					results[i] = att
					done[i] = true
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-finished:
	case <-runCtx.Done():
	}

	mu.Lock()
	closed = true
	now := c.clock().UTC()
	for i, v := range verifiers {
		if done[i] {
			continue
		}
		round.TimedOut++
		err := xerrors.New(xerrors.CodeTimeout, "验证者未在规定时间内完成评估",
			xerrors.WithMetadata("verifier", v.Identity().AgentID))
		results[i] = attestation.Failed(v.Identity(), round.SubmissionID, round.PackageHash, err, now)
	}
	mu.Unlock()

	round.Attestations = results
	round.Verdict = Aggregate(round.SubmissionID, results, c.cfg)
	round.CompletedAt = c.clock().UTC()

	span.SetAttributes(
		attribute.String("dvn.verdict.state", string(round.Verdict.State)),
		attribute.Int("dvn.verdict.approvals", round.Verdict.Approvals),
		attribute.Int("dvn.verdict.successful", round.Verdict.SuccessfulEvaluations),
		attribute.Int("dvn.timed_out", round.TimedOut),
	)
	if round.Verdict.State == StateDegenerate {
		span.SetStatus(codes.Error, string(xerrors.CodeAggregationDegenerate))
	}

	if round.TimedOut > 0 {
		c.logger.Warn("部分验证者超时",
			slog.String("submission_id", round.SubmissionID),
			slog.Int("timed_out", round.TimedOut),
			slog.Duration("timeout", c.cfg.EvaluationTimeout))
	}
	logger.Audit().Info("共识结论已生成",
		slog.String("submission_id", round.SubmissionID),
		slog.String("state", string(round.Verdict.State)),
		slog.Bool("verified", round.Verdict.Verified),
		slog.Int("approvals", round.Verdict.Approvals),
		slog.Int("successful", round.Verdict.SuccessfulEvaluations),
		slog.Float64("approval_rate", round.Verdict.ApprovalRate),
	)
	return round
}

func (c *Coordinator) verify(ctx context.Context, pkg *poa.Package, v Verifier) attestation.Attestation {
	id := v.Identity()
	ctx, span := c.tracer.Start(ctx, "consensus.verify", trace.WithAttributes(
		attribute.String("dvn.verifier", id.AgentID),
		attribute.String("dvn.specialization", string(id.Specialization)),
	))
	defer span.End()

	att := v.Verify(ctx, pkg)
	span.SetAttributes(
		attribute.Bool("dvn.decision", att.Decision),
		attribute.Float64("dvn.overall_score", att.OverallScore),
		attribute.String("dvn.status", string(att.Status)),
	)
	if !att.Successful() {
		span.SetStatus(codes.Error, att.Error)
	}
	return att
}
