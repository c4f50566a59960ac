// Package notify delivers trade notifications to a Telegram chat. Delivery
// is best effort: a failed notification is logged, never surfaced to the
// handler that produced it.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Notifier is the outbound notification seam.
type Notifier interface {
	Notify(text string)
}

// Telegram posts messages to the Telegram bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	log    *zap.Logger
}

// NewTelegram builds a notifier. With empty credentials every Notify call is
// a logged no-op, so a missing token never crashes the copier.
func NewTelegram(token, chatID string, log *zap.Logger) *Telegram {
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

func (t *Telegram) Notify(text string) {
	if t.token == "" || t.chatID == "" {
		t.log.Debug("telegram credentials missing, skipping notification")
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	payload, _ := json.Marshal(map[string]string{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})

	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		t.log.Warn("telegram notification failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.log.Warn("telegram notification rejected", zap.Int("status", resp.StatusCode))
	}
}

// Nop discards every notification. Used in tests and dry-run mode.
type Nop struct{}

func (Nop) Notify(string) {}
