package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/presenced/internal/config"
	"github.com/goodtune/presenced/internal/metrics"
	"github.com/rs/zerolog"
)

// Message is one outgoing notification. Severity (0-3) is carried as the
// message priority.
type Message struct {
	Title    string
	Body     string
	Severity int
}

// Client delivers messages to a gotify-style endpoint, fanning out to every
// configured application token. Delivery is best-effort: failures are
// logged and counted, never returned, so a dead notification server can
// never disturb tracking state.
type Client struct {
	url    string
	tokens []string
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a notification client. With no URL or tokens
// configured, Send becomes a no-op.
func NewClient(cfg config.NotifyConfig, logger zerolog.Logger) *Client {
	return &Client{
		url:    cfg.URL,
		tokens: cfg.Tokens,
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "notify").Logger(),
	}
}

// Send delivers the message to every configured token concurrently and
// waits for all attempts to finish.
func (c *Client) Send(ctx context.Context, msg Message) {
	if c.url == "" || len(c.tokens) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"title":    msg.Title,
		"message":  msg.Body,
		"priority": msg.Severity,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode notification payload")
		return
	}

	var wg sync.WaitGroup
	for _, token := range c.tokens {
		wg.Add(1)
		go func(token string) {
			defer wg.Done()
			if err := c.post(ctx, token, payload); err != nil {
				metrics.NotificationsFailed.Inc()
				c.logger.Error().Err(err).Msg("Failed to send notification")
				return
			}
			metrics.NotificationsSent.Inc()
		}(token)
	}
	wg.Wait()
}

func (c *Client) post(ctx context.Context, token string, payload []byte) error {
	url := fmt.Sprintf("%s/message?token=%s", c.url, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notification server returned status %d", resp.StatusCode)
	}
	return nil
}
