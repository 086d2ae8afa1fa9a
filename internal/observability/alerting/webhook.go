package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DingTalkWebhookSender 通过钉钉群机器人 webhook 发送文本消息。
type DingTalkWebhookSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

var _ DingTalkSender = (*DingTalkWebhookSender)(nil)

// Send 发送文本消息。
func (s *DingTalkWebhookSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.httpClient(), s.WebhookURL, payload)
}

func (s *DingTalkWebhookSender) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// SlackWebhookSender 通过 Slack incoming webhook 发送消息。
type SlackWebhookSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

var _ SlackSender = (*SlackWebhookSender)(nil)

// Send 发送消息到指定频道。
func (s *SlackWebhookSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, s.httpClient(), s.WebhookURL, payload)
}

func (s *SlackWebhookSender) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造 webhook 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
