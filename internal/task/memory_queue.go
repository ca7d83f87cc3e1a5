package task

import (
	"context"
	"sync"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 基于带缓冲 channel 的进程内队列。处理失败的轮次由 Processor 自行重投，
// 队列本身不做确认。
type MemoryQueue struct {
	ids  chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列，size 非正时使用 64。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{
		ids:  make(chan string, size),
		done: make(chan struct{}),
	}
}

func errMemoryQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")
}

// Publish 投递轮次 ID。队列满时阻塞，直到有空位、ctx 结束或队列被关闭。
func (q *MemoryQueue) Publish(ctx context.Context, roundID string) error {
	select {
	case <-q.done:
		return errMemoryQueueClosed()
	default:
	}
	select {
	case q.ids <- roundID:
		return nil
	case <-q.done:
		return errMemoryQueueClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 实现 Consumer。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return drain(ctx, workerCount, q.next, handler)
}

// next 在队列关闭后仍先取完缓冲中的轮次。
func (q *MemoryQueue) next(ctx context.Context) (string, func(error), error) {
	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case id := <-q.ids:
		return id, nil, nil
	case <-q.done:
		select {
		case id := <-q.ids:
			return id, nil, nil
		default:
			return "", nil, errMemoryQueueClosed()
		}
	}
}

// Close 关闭队列并唤醒阻塞中的 Publish，之后的 Publish 返回 QUEUE_FAILURE，可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
