// Package alerting 把需要人工关注的运行事件送往告警渠道。
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "pochipo/internal/errors"
	"pochipo/pkg/logger"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Subject    string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到某个渠道。
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher struct {
	notifiers []Notifier
}

// NewDispatcher 创建事件分发器。未注册任何通知器时退化为纯日志。
func NewDispatcher(notifiers ...Notifier) *Dispatcher {
	var set []Notifier
	for _, n := range notifiers {
		if n != nil {
			set = append(set, n)
		}
	}
	return &Dispatcher{notifiers: set}
}

// Notify 把事件写入审计日志并广播至所有渠道。
func (d *Dispatcher) Notify(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	logger.Audit().Warn("alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("subject", event.Subject),
		slog.String("message", event.Message),
	)
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NotifyError 从错误中提取错误码与严重程度并分发。不需要告警的
// 错误码直接忽略。
func (d *Dispatcher) NotifyError(ctx context.Context, subject string, err error) {
	if err == nil || !xerrors.ShouldAlert(err) {
		return
	}
	_ = d.Notify(ctx, Event{
		Code:     xerrors.CodeOf(err),
		Message:  err.Error(),
		Severity: xerrors.SeverityOf(err),
		Subject:  subject,
	})
}

// WebhookNotifier 把事件 POST 到通用 webhook（Slack 兼容格式）。
type WebhookNotifier struct {
	URL        string
	HTTPClient *http.Client
}

// Notify 实现 Notifier。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.URL == "" {
		return nil
	}
	client := n.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	text := fmt.Sprintf("[%s] %s - %s (%s)", event.Severity, event.Code, event.Message, event.Subject)
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警渠道返回状态码 %d", resp.StatusCode)
	}
	return nil
}
