package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/internal/observability/alerting"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// Executor 运行一次验证轮次，由 agent.Network 实现。
type Executor interface {
	Execute(ctx context.Context, req agent.RoundRequest) (*agent.RoundResult, error)
}

// Processor 从队列取出轮次 ID，领取轮次后交给 Executor 执行并回写结论。
//
// 可重试的失败在未达到 MaxRetries 前回到 pending 并重新投递；不可重试的失败先交给
// RecoveryHandler 补偿，补偿无结果时直接终止。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	recovery    RecoveryHandler
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定调试日志输出，未设置时不输出调试日志。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithRecoveryHandler 配置不可重试失败的补偿策略。
func WithRecoveryHandler(h RecoveryHandler) ProcessorOption {
	return func(p *Processor) { p.recovery = h }
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// NewProcessor 构造 Processor，默认单协程消费。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 阻塞消费队列，直到 ctx 取消或队列失效。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置轮次消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, roundID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, roundID)
	switch {
	case errors.Is(err, ErrRoundNotFound), errors.Is(err, ErrRoundCompleted), errors.Is(err, ErrRoundExhausted):
		p.debug("跳过轮次", slog.String("round_id", roundID), slog.String("reason", err.Error()))
		return nil
	case err != nil:
		logger.L().Error("领取轮次失败", slog.Any("error", err), slog.String("round_id", roundID))
		p.alert(ctx, &Task{ID: roundID}, CodeRoundProcessing, err, "claim")
		return err
	}

	result, err := p.executor.Execute(ctx, agent.RoundRequest{
		SubmissionID:   task.SubmissionID,
		ContentAddress: task.ContentAddress,
		PackageHash:    task.PackageHash,
		Metadata:       cloneMetadata(task.Metadata),
	})
	if err == nil && result == nil {
		err = xerrors.New(CodeRoundProcessing, "验证网络未返回结论")
	}
	if err != nil {
		return p.fail(ctx, task, err)
	}

	record := ResultFromVerdict(result.Verdict())
	if err := p.store.MarkSucceeded(ctx, task.ID, record); err != nil {
		logger.L().Error("写入轮次结论失败", slog.Any("error", err), slog.String("round_id", task.ID))
		return p.requeue(ctx, task, CodeRoundProcessing, err)
	}
	logger.Audit().Info("验证轮次完成",
		slog.String("round_id", task.ID),
		slog.String("submission_id", task.SubmissionID),
		slog.String("verdict", string(record.VerdictState)),
		slog.Int("approvals", record.Approvals),
		slog.Int("successful", record.SuccessfulEvaluations),
	)
	return nil
}

// fail 根据错误的可重试性与剩余次数决定补偿、重投或终止。
func (p *Processor) fail(ctx context.Context, task *Task, cause error) error {
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = CodeRoundProcessing
	}
	retryable := xerrors.RetryableError(cause)

	if !retryable {
		if done, err := p.compensate(ctx, task, code, cause); done {
			return err
		}
	}

	terminal := !retryable || task.Attempts >= task.MaxRetries
	stage := "retry"
	switch {
	case !retryable:
		stage = "non_retryable"
	case terminal:
		stage = "terminal"
	}
	logger.Audit().Warn("验证轮次失败",
		slog.String("round_id", task.ID),
		slog.String("submission_id", task.SubmissionID),
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if !terminal {
		p.alert(ctx, task, code, cause, stage)
		return p.requeue(ctx, task, code, cause)
	}
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), true); err != nil {
		logger.L().Error("标记轮次终止失败出错", slog.Any("error", err), slog.String("round_id", task.ID))
		return err
	}
	p.alert(ctx, task, code, cause, stage)
	return nil
}

// compensate 调用 RecoveryHandler；返回 done 为 true 时轮次已被补偿处理，err 为回写结果。
func (p *Processor) compensate(ctx context.Context, task *Task, code xerrors.Code, cause error) (done bool, err error) {
	if p.recovery == nil {
		return false, nil
	}
	fallback, recErr := p.recovery.Recover(ctx, task, cause)
	if recErr != nil {
		wrapped := xerrors.Wrap(CodeRoundCompensate, recErr, "轮次补偿失败")
		logger.L().Error("执行补偿逻辑失败", slog.Any("error", wrapped), slog.String("round_id", task.ID))
		p.alert(ctx, task, CodeRoundCompensate, wrapped, "compensate")
		return false, nil
	}
	if fallback == nil {
		return false, nil
	}
	if err := p.store.MarkSucceeded(ctx, task.ID, *fallback); err != nil {
		logger.L().Error("记录补偿结论失败", slog.Any("error", err), slog.String("round_id", task.ID))
		return true, p.requeue(ctx, task, code, err)
	}
	logger.Audit().Warn("轮次以账本结论补偿完成",
		slog.String("round_id", task.ID),
		slog.String("submission_id", task.SubmissionID),
		slog.String("verdict", string(fallback.VerdictState)),
		slog.String("cause", cause.Error()),
	)
	p.alert(ctx, task, code, cause, "recovered")
	return true, nil
}

// requeue 将轮次放回 pending 并重新投递。
func (p *Processor) requeue(ctx context.Context, task *Task, code xerrors.Code, cause error) error {
	if err := p.store.MarkFailed(ctx, task.ID, code, cause.Error(), false); err != nil {
		logger.L().Error("回写轮次失败状态出错", slog.Any("error", err), slog.String("round_id", task.ID))
		return err
	}
	if p.producer == nil {
		return xerrors.New(CodeRoundPublish, "未配置轮次投递器", xerrors.WithMetadata("round_id", task.ID))
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeRoundPublish, err, "轮次重投失败", xerrors.WithMetadata("round_id", task.ID))
	}
	p.debug("轮次已重新排队", slog.String("round_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) debug(msg string, attrs ...slog.Attr) {
	if p.logger == nil {
		return
	}
	p.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrs...)
}

func (p *Processor) alert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || task == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:         code,
		Message:      attrs.Message,
		Severity:     attrs.Severity,
		SubmissionID: task.SubmissionID,
		Stage:        stage,
		Attempts:     task.Attempts,
		MaxRetries:   task.MaxRetries,
		Metadata:     map[string]string{"round_id": task.ID},
		OccurredAt:   time.Now(),
	}
	if cause != nil {
		event.Message = cause.Error()
		event.Metadata["cause"] = cause.Error()
	}
	if task.ContentAddress != "" {
		event.Metadata["content_address"] = task.ContentAddress
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("round_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
