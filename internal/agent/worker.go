package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ChaosChain/chaoschain-dvn/internal/attestation"
	"github.com/ChaosChain/chaoschain-dvn/internal/codec"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	"github.com/ChaosChain/chaoschain-dvn/internal/datasource"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/metrics"
	"github.com/ChaosChain/chaoschain-dvn/internal/poa"
	"github.com/ChaosChain/chaoschain-dvn/internal/web3"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

const defaultPutRetries = 3

// WorkRequest 描述工作者的一次扫描提交。
type WorkRequest struct {
	SubmissionID string         `json:"submission_id,omitempty"`
	StoreID      string         `json:"store_id"`
	Section      string         `json:"section"`
	Scenario     string         `json:"scenario,omitempty"`
	ActionType   poa.ActionType `json:"action_type,omitempty"`
	StudioID     string         `json:"studio_id,omitempty"`
}

// Submission 是工作者完成一次提交后的记录。
type Submission struct {
	SubmissionID    string             `json:"submission_id"`
	PackageHash     string             `json:"package_hash"`
	ContentAddress  string             `json:"content_address"`
	FallbackAddress bool               `json:"fallback_address"`
	ActionType      poa.ActionType     `json:"action_type"`
	StudioID        string             `json:"studio_id"`
	WorkerAgentID   string             `json:"worker_agent_id"`
	ItemsScanned    int                `json:"items_scanned"`
	Anomalies       int                `json:"anomalies"`
	Quality         datasource.Quality `json:"verification_quality"`
	Notice          *web3.Receipt      `json:"notice,omitempty"`
	NoticeError     string             `json:"notice_error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`

	Package *poa.Package `json:"-"`
}

// Worker 负责扫描、打包、存储并在链上公告 PoA 包。
type Worker struct {
	id         string
	source     datasource.Source
	store      contentstore.Store
	chain      attestation.ChainSubmitter
	builder    *poa.Builder
	putRetries int
	backoff    func() backoff.BackOff
	clock      func() time.Time
	logger     *slog.Logger
}

// WorkerOption 定义 Worker 的可选配置。
type WorkerOption func(*Worker)

// WithNoticeSubmitter 配置用于公告 PoA 包的链客户端。
func WithNoticeSubmitter(chain attestation.ChainSubmitter) WorkerOption {
	return func(w *Worker) {
		w.chain = chain
	}
}

// WithBuilder 替换包构建器。
func WithBuilder(b *poa.Builder) WorkerOption {
	return func(w *Worker) {
		if b != nil {
			w.builder = b
		}
	}
}

// WithPutRetries 设置内容存储写入的重试次数。
func WithPutRetries(n int) WorkerOption {
	return func(w *Worker) {
		if n >= 0 {
			w.putRetries = n
		}
	}
}

// WithPutBackOff 替换内容存储重试的退避策略。
func WithPutBackOff(fn func() backoff.BackOff) WorkerOption {
	return func(w *Worker) {
		if fn != nil {
			w.backoff = fn
		}
	}
}

// WithWorkerClock 替换时间来源。
func WithWorkerClock(clock func() time.Time) WorkerOption {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithWorkerLogger 指定日志输出。
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorker 创建工作者。
func NewWorker(id string, source datasource.Source, store contentstore.Store, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:         id,
		source:     source,
		store:      store,
		putRetries: defaultPutRetries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		clock:  time.Now,
		logger: logger.Named("worker"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.builder == nil {
		w.builder = poa.NewBuilder(poa.WithClock(w.clock))
	}
	return w
}

// ID 返回工作者标识。
func (w *Worker) ID() string { return w.id }

// Submit 执行一次完整的提交：扫描、构建、存储与链上公告。
// 内容存储不可用时以 package_hash 作为地址继续；链上公告失败只记录在结果中。
func (w *Worker) Submit(ctx context.Context, req WorkRequest) (*Submission, error) {
	if w.source == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置扫描数据源")
	}
	action := req.ActionType
	if action == "" {
		action = poa.ActionStockReport
	}
	if _, err := poa.ParseActionType(string(action)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.StoreID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "store_id 不能为空")
	}

	scan, err := w.source.Collect(ctx, datasource.Request{
		StoreID:  req.StoreID,
		Section:  req.Section,
		Scenario: req.Scenario,
	})
	if err != nil {
		return nil, err
	}
	scan.AgentID = w.id

	submissionID := req.SubmissionID
	if strings.TrimSpace(submissionID) == "" {
		submissionID = fmt.Sprintf("%s_%s_%d", req.StoreID, action, w.clock().Unix())
	}

	pkg, err := w.builder.Build(poa.BuildRequest{
		SubmissionID:  submissionID,
		StudioID:      req.StudioID,
		WorkerAgentID: w.id,
		ActionType:    action,
		InventoryData: scan.InventoryData(),
		Evidence:      scan.Evidence(w.id),
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("PoA 包已构建",
		slog.String("submission_id", pkg.SubmissionID),
		slog.String("package_hash", pkg.PackageHash),
		slog.String("worker", w.id),
		slog.Int("items", len(scan.Items)))

	address, fallback := w.put(ctx, pkg)

	sub := &Submission{
		SubmissionID:    pkg.SubmissionID,
		PackageHash:     pkg.PackageHash,
		ContentAddress:  address,
		FallbackAddress: fallback,
		ActionType:      pkg.ActionType,
		StudioID:        pkg.StudioID,
		WorkerAgentID:   w.id,
		ItemsScanned:    len(scan.Items),
		Anomalies:       len(scan.Anomalies),
		Quality:         scan.Quality,
		CreatedAt:       pkg.Timestamp,
		Package:         pkg,
	}
	w.announce(ctx, sub)
	return sub, nil
}

// put 写入内容存储，失败时回退到包哈希。
func (w *Worker) put(ctx context.Context, pkg *poa.Package) (string, bool) {
	if w.store == nil {
		w.logger.Warn("未配置内容存储，使用包哈希作为地址", slog.String("submission_id", pkg.SubmissionID))
		metrics.ObserveContentStoreFallback()
		return pkg.PackageHash, true
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(w.backoff(), uint64(w.putRetries)), ctx)
	address, err := backoff.RetryWithData(func() (string, error) {
		addr, err := w.store.Put(ctx, pkg)
		if err != nil && !xerrors.RetryableError(err) {
			return "", backoff.Permanent(err)
		}
		return addr, err
	}, policy)
	if err != nil {
		w.logger.Warn("内容存储写入失败，使用包哈希作为地址",
			slog.String("submission_id", pkg.SubmissionID),
			slog.Any("error", err))
		logger.Audit().Warn("内容地址回退",
			slog.String("submission_id", pkg.SubmissionID),
			slog.String("package_hash", pkg.PackageHash))
		metrics.ObserveContentStoreFallback()
		return pkg.PackageHash, true
	}
	return address, false
}

// announce 将 PoA 公告提交到链上。
func (w *Worker) announce(ctx context.Context, sub *Submission) {
	if w.chain == nil {
		return
	}
	payload, err := codec.Canonicalize(map[string]any{
		"submission_id":   sub.SubmissionID,
		"package_hash":    sub.PackageHash,
		"content_address": sub.ContentAddress,
		"action_type":     string(sub.ActionType),
		"studio_id":       sub.StudioID,
	})
	if err != nil {
		sub.NoticeError = err.Error()
		return
	}
	receipt, err := w.chain.Submit(ctx, payload)
	if err != nil {
		sub.NoticeError = err.Error()
		metrics.ObserveChainSubmission("poa", string(attestation.SubmissionFailed))
		w.logger.Warn("PoA 公告上链失败",
			slog.String("submission_id", sub.SubmissionID),
			slog.Any("error", err))
		return
	}
	sub.Notice = &receipt
	metrics.ObserveChainSubmission("poa", string(attestation.SubmissionSubmitted))
	logger.Audit().Info("PoA 公告已上链",
		slog.String("submission_id", sub.SubmissionID),
		slog.String("tx_id", receipt.TransactionID),
		slog.Uint64("resource_used", receipt.ResourceUsed))
}
