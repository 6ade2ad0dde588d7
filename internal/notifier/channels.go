package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/config"
	"github.com/arc-self/sanctions-watch/internal/domain"
)

// Channel delivers one rendered message. Implementations must be safe for
// concurrent use.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// BuildChannels assembles the enabled channel set from configuration. LOG is
// always available when enabled and needs no credentials.
func BuildChannels(cfg config.ChannelConfig, logger *zap.Logger) []Channel {
	var out []Channel
	if cfg.LogEnabled {
		out = append(out, NewLogChannel(logger))
	}
	if cfg.EmailEnabled {
		out = append(out, NewEmailChannel(cfg.EmailEndpoint, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailRecipients))
	}
	if cfg.WebhookEnabled {
		out = append(out, NewWebhookChannel(cfg.WebhookURL, cfg.WebhookSecret))
	}
	if cfg.SlackEnabled {
		out = append(out, NewSlackChannel(cfg.SlackWebhookURL))
	}
	return out
}

// ── LOG ───────────────────────────────────────────────────────────────────

// LogChannel writes notifications to the structured log. Always succeeds.
type LogChannel struct {
	logger *zap.Logger
}

func NewLogChannel(logger *zap.Logger) *LogChannel { return &LogChannel{logger: logger} }

func (c *LogChannel) Name() string { return "LOG" }

func (c *LogChannel) Send(_ context.Context, msg Message) error {
	c.logger.Info("sanctions change notification",
		zap.String("subject", msg.Subject),
		zap.String("source", string(msg.Source)),
		zap.String("risk_level", string(msg.RiskLevel)),
		zap.Int("events", len(msg.EventIDs)),
		zap.String("body", msg.Body),
	)
	return nil
}

// ── EMAIL ─────────────────────────────────────────────────────────────────

// EmailChannel posts to a Resend-compatible HTTP email API.
type EmailChannel struct {
	client     *http.Client
	endpoint   string
	apiKey     string
	from       string
	recipients []string
}

func NewEmailChannel(endpoint, apiKey, from string, recipients []string) *EmailChannel {
	return &EmailChannel{
		client:     &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		from:       from,
		recipients: recipients,
	}
}

func (c *EmailChannel) Name() string { return "EMAIL" }

func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"from":    c.from,
		"to":      c.recipients,
		"subject": msg.Subject,
		"text":    msg.Body,
	})
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.NotificationError{Channel: c.Name(),
			Err: fmt.Errorf("email api returned HTTP %d", resp.StatusCode)}
	}
	return nil
}

// ── WEBHOOK ───────────────────────────────────────────────────────────────

// WebhookChannel posts the message as JSON with an HMAC-SHA256 signature so
// receivers can authenticate the payload.
type WebhookChannel struct {
	client *http.Client
	url    string
	secret string
}

func NewWebhookChannel(url, secret string) *WebhookChannel {
	return &WebhookChannel{
		client: &http.Client{Timeout: 15 * time.Second},
		url:    url,
		secret: secret,
	}
}

func (c *WebhookChannel) Name() string { return "WEBHOOK" }

func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"subject":    msg.Subject,
		"body":       msg.Body,
		"source":     msg.Source,
		"risk_level": msg.RiskLevel,
		"event_ids":  msg.EventIDs,
	})
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Signature-256", "sha256="+computeHMAC(payload, c.secret))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}
	defer drainAndClose(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &domain.NotificationError{Channel: c.Name(),
			Err: fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)}
	}
	return nil
}

func computeHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// ── SLACK ─────────────────────────────────────────────────────────────────

// SlackChannel posts via a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{webhookURL: webhookURL}
}

func (c *SlackChannel) Name() string { return "SLACK" }

func (c *SlackChannel) Send(ctx context.Context, msg Message) error {
	err := slack.PostWebhookContext(ctx, c.webhookURL, &slack.WebhookMessage{
		Text: fmt.Sprintf("*%s*\n```%s```", msg.Subject, msg.Body),
	})
	if err != nil {
		return &domain.NotificationError{Channel: c.Name(), Err: err}
	}
	return nil
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4<<10))
	_ = body.Close()
}
