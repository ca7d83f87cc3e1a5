package agent

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/consensus"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/ledger"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/alerting"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/metrics"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// Network 驱动一次完整的验证轮次：取包、校验、分发、聚合与记账。
type Network struct {
	store       contentstore.Store
	coordinator *consensus.Coordinator
	verifiers   []consensus.Verifier
	ledger      ledger.Ledger
	alerter     alerting.Dispatcher
}

// NetworkOption 定义 Network 的可选配置。
type NetworkOption func(*Network)

// WithLedger 配置轮次结果的持久化位置。
func WithLedger(l ledger.Ledger) NetworkOption {
	return func(n *Network) {
		n.ledger = l
	}
}

// WithNetworkAlerts 配置退化结论的告警派发器。
func WithNetworkAlerts(d alerting.Dispatcher) NetworkOption {
	return func(n *Network) {
		n.alerter = d
	}
}

// NewNetwork 创建验证网络。
func NewNetwork(store contentstore.Store, coordinator *consensus.Coordinator, verifiers []consensus.Verifier, opts ...NetworkOption) *Network {
	if coordinator == nil {
		coordinator = consensus.NewCoordinator(consensus.DefaultConfig())
	}
	n := &Network{
		store:       store,
		coordinator: coordinator,
		verifiers:   append([]consensus.Verifier(nil), verifiers...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Verifiers 返回参与验证的身份列表。
func (n *Network) Verifiers() []attestation.Identity {
	ids := make([]attestation.Identity, 0, len(n.verifiers))
	for _, v := range n.verifiers {
		ids = append(ids, v.Identity())
	}
	return ids
}

// Execute 按内容地址取回包并运行一次共识轮次。
func (n *Network) Execute(ctx context.Context, req RoundRequest) (*RoundResult, error) {
	if n.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置内容存储")
	}
	if len(n.verifiers) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置验证者")
	}
	if err := contentstore.CheckAddress(req.ContentAddress); err != nil {
		return nil, err
	}

	pkg, err := n.store.Get(ctx, req.ContentAddress)
	if err != nil {
		return nil, err
	}
	if err := matchRequest(pkg, req); err != nil {
		return nil, err
	}

	round := n.Run(ctx, pkg)

	if n.ledger != nil {
		if err := n.ledger.RecordRound(ctx, round); err != nil {
			return nil, err
		}
	}
	return &RoundResult{Round: round}, nil
}

// Run 对已取得的包运行共识轮次，不经过内容存储与账本。
func (n *Network) Run(ctx context.Context, pkg *poa.Package) consensus.Round {
	round := n.coordinator.Run(ctx, pkg, n.verifiers)
	metrics.ObserveVerdict(string(round.Verdict.State), round.CompletedAt.Sub(round.StartedAt))
	if round.Verdict.State == consensus.StateDegenerate {
		n.alertDegenerate(ctx, round)
	}
	return round
}

func matchRequest(pkg *poa.Package, req RoundRequest) error {
	if req.SubmissionID != "" && pkg.SubmissionID != req.SubmissionID {
		return xerrors.New(xerrors.CodeValidation, "包的 submission_id 与请求不一致",
			xerrors.WithMetadata("expected", req.SubmissionID),
			xerrors.WithMetadata("actual", pkg.SubmissionID))
	}
	if req.PackageHash != "" && pkg.PackageHash != req.PackageHash {
		return xerrors.New(xerrors.CodeValidation, "包哈希与请求不一致",
			xerrors.WithMetadata("expected", req.PackageHash),
			xerrors.WithMetadata("actual", pkg.PackageHash))
	}
	return nil
}

func (n *Network) alertDegenerate(ctx context.Context, round consensus.Round) {
	if n.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(xerrors.CodeAggregationDegenerate)
	event := alerting.Event{
		Code:         xerrors.CodeAggregationDegenerate,
		Message:      attrs.Message,
		Severity:     attrs.Severity,
		SubmissionID: round.SubmissionID,
		Stage:        "verdict",
		Metadata: map[string]string{
			"verifiers": strconv.Itoa(round.Verdict.TotalVerifiers),
			"timed_out": strconv.Itoa(round.TimedOut),
		},
		OccurredAt: time.Now(),
	}
	if err := n.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败", slog.Any("error", err), slog.String("submission_id", round.SubmissionID))
	}
}
