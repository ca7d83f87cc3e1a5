package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。BlockWait 为单次 BRPOP 的阻塞时长，默认 5 秒。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// listClient 是 RedisQueue 用到的 go-redis 命令子集。
type listClient interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// RedisQueue 以 Redis list 为 FIFO：LPUSH 入队，BRPOP 出队。
type RedisQueue struct {
	client listClient
	key    string
	wait   time.Duration
}

// NewRedisQueue 连接 Redis 并确认可用。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败",
			xerrors.WithMetadata("address", cfg.Address))
	}
	return newRedisQueue(client, cfg.Queue, cfg.BlockWait), nil
}

func newRedisQueue(client listClient, key string, wait time.Duration) *RedisQueue {
	if key == "" {
		key = "dvn:rounds"
	}
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, key: key, wait: wait}
}

// Publish 实现 Producer。
func (q *RedisQueue) Publish(ctx context.Context, roundID string) error {
	if err := q.client.LPush(ctx, q.key, roundID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 投递轮次失败",
			xerrors.WithMetadata("round_id", roundID))
	}
	return nil
}

// Consume 实现 Consumer。处理失败的轮次重新 LPUSH，排到当前所有待处理轮次之后。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	return drain(ctx, workerCount, q.pop, handler)
}

func (q *RedisQueue) pop(ctx context.Context) (string, func(error), error) {
	values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", nil, errIdle
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, redis.ErrClosed):
		return "", nil, err
	case err != nil:
		return "", nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取轮次失败")
	case len(values) != 2:
		return "", nil, errIdle
	}
	roundID := values[1]
	return roundID, func(handlerErr error) {
		if handlerErr != nil {
			_ = q.client.LPush(ctx, q.key, roundID).Err()
		}
	}, nil
}

// Close 关闭底层连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
