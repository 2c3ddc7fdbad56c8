package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentRunes is Discord's message length limit.
const MaxContentRunes = 2000

// DeliveryError reports a webhook that answered with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	URL      string
	Username string
	Timeout  time.Duration
}

// Discord posts plain-text messages to a Discord-compatible webhook.
type Discord struct {
	url      string
	username string
	client   *http.Client
}

func NewDiscord(cfg Config) *Discord {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Discord{url: cfg.URL, username: cfg.Username, client: &http.Client{Timeout: timeout}}
}

type payload struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

// Send delivers content as a single message.
func (d *Discord) Send(ctx context.Context, content string) error {
	body, err := json.Marshal(payload{Content: truncate(content, MaxContentRunes), Username: d.username})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}
