package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// fallbackAfter: consecutive Slack failures before alerts reroute to the
// fallback channel.
const fallbackAfter = 3

// AlertMonitor sends operational alerts (DLQ overflow and friends) to a
// Slack webhook, falling back to Telegram when Slack keeps failing. It
// implements queue.Monitor.
type AlertMonitor struct {
	webhook  string
	client   *http.Client
	fallback func(ctx context.Context, text string) error

	mu       sync.Mutex
	failures int
}

// NewAlertMonitor builds a monitor. An empty webhook routes everything to
// the fallback; a nil fallback drops what Slack cannot take.
func NewAlertMonitor(webhook string, fallback func(ctx context.Context, text string) error) *AlertMonitor {
	return &AlertMonitor{
		webhook:  webhook,
		client:   &http.Client{Timeout: 10 * time.Second},
		fallback: fallback,
	}
}

// Notify delivers one alert message.
func (m *AlertMonitor) Notify(ctx context.Context, msg string) {
	if m.webhook == "" {
		m.sendFallback(ctx, msg)
		return
	}
	if err := m.postSlack(ctx, msg); err != nil {
		zap.L().Warn("slack alert failed", zap.Error(err))
		m.mu.Lock()
		m.failures++
		failed := m.failures
		m.mu.Unlock()
		if failed >= fallbackAfter {
			m.sendFallback(ctx, msg)
		}
		return
	}
	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
}

func (m *AlertMonitor) postSlack(ctx context.Context, msg string) error {
	body, err := json.Marshal(map[string]string{"text": msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhook, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook status %d", resp.StatusCode)
	}
	return nil
}

// TelegramFallback builds a fallback that lazily authenticates the
// monitoring bot on first use. Returns nil when not configured.
func TelegramFallback(token string, chatID int64) func(ctx context.Context, text string) error {
	if token == "" || chatID == 0 {
		return nil
	}
	var tg *Telegram
	var mu sync.Mutex
	return func(ctx context.Context, text string) error {
		mu.Lock()
		if tg == nil {
			bot, err := NewTelegram(token)
			if err != nil {
				mu.Unlock()
				return err
			}
			tg = bot
		}
		mu.Unlock()
		return tg.SendText(ctx, chatID, text)
	}
}

func (m *AlertMonitor) sendFallback(ctx context.Context, msg string) {
	if m.fallback == nil {
		return
	}
	if err := m.fallback(ctx, msg); err != nil {
		zap.L().Error("fallback alert failed", zap.Error(err))
	}
}
