package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	xerrors "github.com/ChaosChain/chaoschain-dvn/internal/errors"
	"github.com/ChaosChain/chaoschain-dvn/pkg/logger"
)

// SlackSender 向 Slack 频道投递一条文本消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 SlackSender 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

// Channel 实现 Notifier。
func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

// Notify 实现 Notifier。未配置 Sender 或频道时只记录警告。
func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("submission_id", event.SubmissionID))
		return nil
	}
	return n.Sender.Send(ctx, n.ChannelID, slackText(event))
}

func slackText(e Event) string {
	text := fmt.Sprintf("*[%s]* %s - %s\n提交: %s 阶段: %s", e.Severity, e.Code, e.Message, e.SubmissionID, e.Stage)
	if e.MaxRetries > 0 {
		text += " (重试 " + strconv.Itoa(e.Attempts) + "/" + strconv.Itoa(e.MaxRetries) + ")"
	}
	return text
}

const defaultWebhookAttempts = 3

// WebhookSender 通过 Slack incoming webhook 发送消息。网络错误、429 与 5xx 会按指数退避重试，
// 总次数不超过 MaxAttempts（默认 3）。
type WebhookSender struct {
	URL         string
	Client      *http.Client
	MaxAttempts int
}

// Send 实现 SlackSender。
func (s *WebhookSender) Send(ctx context.Context, channel, content string) error {
	if s == nil || s.URL == "" {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置 Slack webhook 地址")
	}
	body, err := json.Marshal(map[string]string{"channel": channel, "text": content})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeEncoding, err, "编码 Slack 消息失败")
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = defaultWebhookAttempts
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造 Slack 请求失败"))
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeTimeout, err, "发送 Slack 消息失败")
		}
		_ = resp.Body.Close()
		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return xerrors.New(xerrors.CodeTimeout, "Slack webhook 暂时不可用",
				xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)))
		default:
			return backoff.Permanent(xerrors.New(xerrors.CodeUnknown, "Slack webhook 拒绝请求",
				xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode))))
		}
	}, retry)
}
