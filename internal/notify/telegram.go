// internal/notify/telegram.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TelegramConfig configures the chat-bot channel.
type TelegramConfig struct {
	BaseURL  string
	BotToken string
	Timeout  time.Duration
}

// TelegramChannel posts alerts through the Bot API sendMessage method.
// Destinations are chat ids.
type TelegramChannel struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewTelegramChannel(cfg TelegramConfig) *TelegramChannel {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TelegramChannel{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.BotToken,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *TelegramChannel) Kind() ChannelKind { return ChannelTelegram }

func (c *TelegramChannel) Send(ctx context.Context, dest string, msg Message) error {
	chatID := strings.TrimSpace(dest)
	if chatID == "" {
		return Permanent(ChannelTelegram, errors.New("empty chat id"))
	}
	if c.token == "" {
		return Permanent(ChannelTelegram, errors.New("bot token is not configured"))
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": chatID,
		"text":    msg.Subject() + "\n" + msg.Text(),
	})
	if err != nil {
		return Permanent(ChannelTelegram, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Permanent(ChannelTelegram, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		// The token is part of the URL; keep it out of logs and alerts.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("telegram request: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(ChannelTelegram, resp)
}
