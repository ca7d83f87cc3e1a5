package task

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Handler 处理一条轮次 ID；返回错误时队列实现负责重新投递。
type Handler func(ctx context.Context, roundID string) error

// Producer 向队列投递轮次 ID。
type Producer interface {
	Publish(ctx context.Context, roundID string) error
	Close() error
}

// Consumer 以固定数量的协程消费轮次 ID，直到 ctx 结束或底层连接失效。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备投递与消费能力，Service 与 Processor 共享同一个实例。
type Queue interface {
	Producer
	Consumer
}

// errIdle 表示本次取消息超时或为空，消费协程应继续轮询。
var errIdle = errors.New("task: queue idle")

// fetchFunc 取出下一条轮次 ID。settle 在 handler 返回后以其结果回调，用于确认或重新投递。
type fetchFunc func(ctx context.Context) (roundID string, settle func(handlerErr error), err error)

// drain 启动 workers 个消费协程；任一协程遇到不可恢复的错误时其余协程随之退出。
func drain(ctx context.Context, workers int, fetch fetchFunc, handler Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	for range max(workers, 1) {
		g.Go(func() error {
			for gctx.Err() == nil {
				roundID, settle, err := fetch(gctx)
				switch {
				case errors.Is(err, errIdle):
					continue
				case err != nil:
					return err
				}
				handlerErr := handler(gctx, roundID)
				if settle != nil {
					settle(handlerErr)
				}
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}
