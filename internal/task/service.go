package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ChaosChain/chaoschain-dvn/internal/agent"
	"github.com/ChaosChain/chaoschain-dvn/internal/contentstore"
	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// Service 负责验证轮次的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
}

// NewService 构造轮次服务。
func NewService(store Store, producer Producer, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, maxRetries: maxRetries}
}

// Submit 登记一次验证轮次并推送到队列。轮次 ID 取 submission_id，缺省时生成 UUID；
// 同一 ID 重复提交时返回已有轮次。
func (s *Service) Submit(ctx context.Context, req agent.RoundRequest) (*Task, error) {
	if strings.TrimSpace(req.ContentAddress) == "" {
		return nil, xerrors.New(CodeRoundValidation, "content_address 不能为空")
	}
	if !contentstore.ValidAddress(req.ContentAddress) {
		return nil, xerrors.New(CodeRoundValidation, "content_address 格式无效",
			xerrors.WithMetadata("content_address", req.ContentAddress))
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次服务未初始化")
	}

	roundID := strings.TrimSpace(req.SubmissionID)
	if roundID != "" {
		existing, err := s.store.Get(ctx, roundID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrRoundNotFound) {
			return nil, err
		}
	} else {
		roundID = uuid.NewString()
	}

	task := &Task{
		ID:             roundID,
		SubmissionID:   strings.TrimSpace(req.SubmissionID),
		ContentAddress: req.ContentAddress,
		PackageHash:    req.PackageHash,
		Metadata:       cloneMetadata(req.Metadata),
		Status:         StatusPending,
		MaxRetries:     s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrRoundConflict) {
			if existing, getErr := s.store.Get(ctx, roundID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, roundID); err != nil {
		logger.L().Error("轮次入队失败", slog.Any("error", err), slog.String("round_id", roundID))
		wrapped := xerrors.Wrap(CodeRoundPublish, err, "发布轮次到队列失败")
		_ = s.store.MarkFailed(ctx, roundID, CodeRoundPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("验证轮次入队",
		slog.String("round_id", roundID),
		slog.String("submission_id", task.SubmissionID),
		slog.String("content_address", task.ContentAddress),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定轮次的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的轮次列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.List(ctx, resolveListOptions(opts))
}

// Stats 返回符合过滤条件的轮次统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (RoundStats, error) {
	if s.store == nil {
		return RoundStats{}, xerrors.New(xerrors.CodeInitializationFailure, "轮次存储未初始化")
	}
	return s.store.Stats(ctx, resolveListOptions(opts))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询直到轮次结束或 ctx 取消。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Finished() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
