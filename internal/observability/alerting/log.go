package alerting

import (
	"context"
	"log/slog"

	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// LogNotifier 把告警写入审计日志，Logger 为空时使用 logger.Audit()。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 实现 Notifier。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 实现 Notifier，始终返回 nil。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.Warn("验证告警", event.attrs()...)
	return nil
}
