package task

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// MemoryStore 以内存方式保存轮次状态，用于单机部署与测试。
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	clock func() time.Time
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*Task), clock: time.Now}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "轮次 ID 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; ok {
		return ErrRoundConflict
	}
	now := m.clock().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

// Get 返回轮次。
func (m *MemoryStore) Get(_ context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return cloneTask(task), nil
}

// Claim 将轮次状态更新为运行中。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrRoundNotFound
	}
	switch task.Status {
	case StatusSucceeded:
		return cloneTask(task), ErrRoundCompleted
	case StatusRunning:
		return cloneTask(task), ErrRoundConflict
	case StatusFailed:
		return cloneTask(task), ErrRoundExhausted
	}
	if task.Attempts >= task.MaxRetries {
		return cloneTask(task), ErrRoundExhausted
	}
	task.Status = StatusRunning
	task.Attempts++
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = m.clock().Unix()
	return cloneTask(task), nil
}

// MarkSucceeded 记录结论。
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result ExecutionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrRoundNotFound
	}
	task.Status = StatusSucceeded
	task.Result = &result
	task.LastError = ""
	task.ErrorCode = ""
	task.UpdatedAt = m.clock().Unix()
	return nil
}

// MarkFailed 记录失败；非终止失败回到 pending。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return ErrRoundNotFound
	}
	task.Status = StatusPending
	if terminal {
		task.Status = StatusFailed
	}
	task.LastError = lastError
	task.ErrorCode = string(code)
	task.UpdatedAt = m.clock().Unix()
	return nil
}

// List 返回符合过滤条件的轮次。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Task, error) {
	opts.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()
	matched := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if opts.Match(task) {
			matched = append(matched, cloneTask(task))
		}
	}
	return opts.window(matched), nil
}

// Stats 统计符合过滤条件的轮次数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (RoundStats, error) {
	opts.normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats RoundStats
	for _, task := range m.tasks {
		if opts.Match(task) {
			stats.add(task)
		}
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
