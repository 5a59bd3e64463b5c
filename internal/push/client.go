// Package push отправляет уведомления участникам, у которых нет живого WebSocket-соединения.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/networkserver/internal/logger"
)

// Client вызывает сервис пуш-уведомлений. Если URL пустой: Notify no-op.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент. baseURL пустой: пуши отключены.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		return &Client{}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Enabled сообщает, настроен ли сервис пушей.
func (c *Client) Enabled() bool { return c.baseURL != "" }

// NotifyRequest: запрос на отправку уведомления.
type NotifyRequest struct {
	Username string            `json:"username"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
}

// Notify отправляет пуш пользователю (broadcaster вызывает его для офлайн-участников беседы).
// Ошибки только логируются и не влияют на запись сообщения.
func (c *Client) Notify(ctx context.Context, identity, title, body string, data map[string]string) {
	if c.baseURL == "" {
		return
	}
	bodyBytes, err := json.Marshal(NotifyRequest{Username: identity, Title: title, Body: body, Data: data})
	if err != nil {
		logger.Errorf("push notify marshal: %v", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/notify", bytes.NewReader(bodyBytes))
	if err != nil {
		logger.Errorf("push notify request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Errorf("push notify %s: %v", identity, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		logger.Errorf("push notify %s: %d", identity, resp.StatusCode)
	}
}
