package task

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数，Queue 为空时使用 dvn.rounds。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过默认交换机直投到命名队列，消费端手动确认。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 建立连接、设置预取数量并声明队列，任一步失败都会释放已打开的资源。
func NewRabbitMQQueue(cfg RabbitMQConfig) (q *RabbitMQQueue, err error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	q = &RabbitMQQueue{queue: cfg.Queue}
	if q.queue == "" {
		q.queue = "dvn.rounds"
	}
	defer func() {
		if err != nil {
			_ = q.Close()
			q = nil
		}
	}()

	if q.conn, err = amqp.Dial(cfg.URL); err != nil {
		return q, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	if q.ch, err = q.conn.Channel(); err != nil {
		return q, xerrors.Wrap(xerrors.CodeQueueFailure, err, "打开 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err = q.ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return q, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ 预取数量失败")
		}
	}
	if _, err = q.ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return q, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败",
			xerrors.WithMetadata("queue", q.queue))
	}
	return q, nil
}

// Publish 以持久化消息投递轮次 ID。
func (q *RabbitMQQueue) Publish(ctx context.Context, roundID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msg := amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		MessageId:    roundID,
		Body:         []byte(roundID),
	}
	if err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 投递轮次失败",
			xerrors.WithMetadata("round_id", roundID))
	}
	return nil
}

// Consume 订阅队列；handler 成功时 Ack，失败时 Nack 并重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	deliveries, err := q.ch.ConsumeWithContext(ctx, q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	fetch := func(ctx context.Context) (string, func(error), error) {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return "", nil, xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
			}
			return string(d.Body), func(handlerErr error) {
				if handlerErr != nil {
					_ = d.Nack(false, true)
					return
				}
				_ = d.Ack(false)
			}, nil
		}
	}
	return drain(ctx, workerCount, fetch, handler)
}

// Close 依次关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}
