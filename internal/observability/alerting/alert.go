package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
)

// Channel 标识一个通知渠道，同一渠道在 Fanout 中只保留最后注册的通知器。
type Channel string

const (
	ChannelLog   Channel = "log"
	ChannelSlack Channel = "slack"
)

// Event 是一次退化结论、轮次失败或补偿的告警。Stage 取值如 verdict、retry、terminal、recovered。
type Event struct {
	Code         xerrors.Code
	Message      string
	Severity     xerrors.Severity
	SubmissionID string
	Stage        string
	Attempts     int
	MaxRetries   int
	Metadata     map[string]string
	OccurredAt   time.Time
}

// attrs 以固定顺序展开事件字段，metadata 键按字典序输出为 meta.<key>。
func (e Event) attrs() []any {
	out := []any{
		slog.String("code", string(e.Code)),
		slog.String("severity", string(e.Severity)),
		slog.String("submission_id", e.SubmissionID),
		slog.String("stage", e.Stage),
		slog.Int("attempts", e.Attempts),
		slog.Int("max_retries", e.MaxRetries),
		slog.String("message", e.Message),
	}
	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, slog.String("meta."+k, e.Metadata[k]))
	}
	return out
}

// Notifier 把事件发送到单个渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 是 Network 与 Processor 依赖的告警入口。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 把事件依次交给每个渠道，单个渠道失败不影响其余渠道。
type FanoutDispatcher struct {
	channels  []Channel
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher，nil 通知器被忽略。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	d := &FanoutDispatcher{notifiers: make(map[Channel]Notifier, len(notifiers))}
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		if _, seen := d.notifiers[n.Channel()]; !seen {
			d.channels = append(d.channels, n.Channel())
		}
		d.notifiers[n.Channel()] = n
	}
	return d
}

// Notify 按注册顺序通知所有渠道，返回合并后的错误。nil 接收者为空操作。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, ch := range d.channels {
		if err := d.notifiers[ch].Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}
