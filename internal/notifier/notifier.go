package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Field 是通知中的一个键值字段
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Notifier pushes operator-facing messages to an external channel.
type Notifier interface {
	Info(ctx context.Context, title, message string, fields ...Field) error
	Error(ctx context.Context, title, message string, fields ...Field) error
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) Info(context.Context, string, string, ...Field) error  { return nil }
func (Nop) Error(context.Context, string, string, ...Field) error { return nil }

const (
	colorInfo  = 0x3498db
	colorError = 0xe74c3c

	maxFieldValue = 1024
)

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Color       int     `json:"color"`
	Timestamp   string  `json:"timestamp"`
	Fields      []Field `json:"fields,omitempty"`
}

type webhookPayload struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

// Discord 通过 webhook 发送 embed 消息
type Discord struct {
	url      string
	username string
	client   *http.Client
	now      func() time.Time
}

// NewDiscord creates a webhook notifier.
func NewDiscord(webhookURL, username string) *Discord {
	return &Discord{
		url:      webhookURL,
		username: username,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

func (d *Discord) Info(ctx context.Context, title, message string, fields ...Field) error {
	return d.send(ctx, "ℹ️ "+title, message, colorInfo, fields)
}

func (d *Discord) Error(ctx context.Context, title, message string, fields ...Field) error {
	return d.send(ctx, "⚠️ "+title, message, colorError, fields)
}

func truncate(v string, max int) string {
	r := []rune(v)
	if len(r) <= max {
		return v
	}
	return string(r[:max-3]) + "..."
}

func (d *Discord) send(ctx context.Context, title, message string, color int, fields []Field) error {
	e := embed{
		Title:       title,
		Description: message,
		Color:       color,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	for _, f := range fields {
		f.Value = truncate(f.Value, maxFieldValue)
		e.Fields = append(e.Fields, f)
	}
	body, err := json.Marshal(webhookPayload{Username: d.username, Embeds: []embed{e}})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("发送 webhook 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
