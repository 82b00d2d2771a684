// internal/notify/email.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

// EmailConfig points the email channel at a Resend-compatible API.
type EmailConfig struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// EmailChannel sends alerts through POST /emails.
type EmailChannel struct {
	baseURL string
	apiKey  string
	from    string
	client  *http.Client
}

func NewEmailChannel(cfg EmailConfig) *EmailChannel {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailChannel{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *EmailChannel) Kind() ChannelKind { return ChannelEmail }

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func (c *EmailChannel) Send(ctx context.Context, dest string, msg Message) error {
	if _, err := mail.ParseAddress(dest); err != nil {
		return Permanent(ChannelEmail, fmt.Errorf("invalid destination %q: %w", dest, err))
	}

	body, err := json.Marshal(sendEmailRequest{
		From:    c.from,
		To:      []string{dest},
		Subject: msg.Subject(),
		Text:    msg.Text(),
	})
	if err != nil {
		return Permanent(ChannelEmail, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return Permanent(ChannelEmail, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email request: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(ChannelEmail, resp)
}

// classifyStatus maps an HTTP response onto the retry policy: timeouts,
// throttling and server errors are transient, every other 4xx is permanent.
func classifyStatus(kind ChannelKind, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s api returned %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(detail)))
	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooEarly,
		resp.StatusCode == http.StatusTooManyRequests:
		return err
	}
	return Permanent(kind, err)
}
