package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// ErrWebhookStatus is returned when the webhook endpoint refuses a message.
var ErrWebhookStatus = errors.New("webhook returned unexpected status")

// LogTransport writes notifications to the log instead of delivering them.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a transport that only logs.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger.Named("notify_log")}
}

// Send logs the message.
func (t *LogTransport) Send(_ context.Context, to Recipient, message string) error {
	t.logger.Info("Notification",
		zap.String("recipient", to.Kind.String()),
		zap.Uint64("recipientID", to.ID),
		zap.Uint64("guildID", to.GuildID),
		zap.String("message", message))
	return nil
}

// MultiTransport delivers every message through a primary transport and
// copies it to mirrors. Only the primary's failure is returned so a broken
// mirror never triggers a resend.
type MultiTransport struct {
	primary Transport
	mirrors []Transport
	logger  *zap.Logger
}

// NewMultiTransport creates a fan-out transport.
func NewMultiTransport(primary Transport, logger *zap.Logger, mirrors ...Transport) *MultiTransport {
	return &MultiTransport{
		primary: primary,
		mirrors: mirrors,
		logger:  logger.Named("notify_multi"),
	}
}

// Send delivers through the primary, then the mirrors.
func (t *MultiTransport) Send(ctx context.Context, to Recipient, message string) error {
	if err := t.primary.Send(ctx, to, message); err != nil {
		return err
	}

	for _, mirror := range t.mirrors {
		if err := mirror.Send(ctx, to, message); err != nil {
			t.logger.Warn("Failed to mirror notification",
				zap.String("recipient", to.Kind.String()),
				zap.Uint64("recipientID", to.ID),
				zap.Error(err))
		}
	}

	return nil
}

// webhookPayload is the body posted to the webhook endpoint.
type webhookPayload struct {
	Content     string `json:"content"`
	Recipient   string `json:"recipient"`
	RecipientID uint64 `json:"recipientId,string"`
	GuildID     uint64 `json:"guildId,string"`
}

// WebhookTransport posts notifications as JSON to an HTTP endpoint.
type WebhookTransport struct {
	url    string
	client *http.Client
}

// NewWebhookTransport creates a webhook transport. Connection errors and 5xx
// responses are retried by the HTTP client itself.
func NewWebhookTransport(url string, logger *zap.Logger) *WebhookTransport {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = leveledZap{logger: logger.Named("notify_webhook").Sugar()}

	client := retryClient.StandardClient()
	client.Timeout = 30 * time.Second

	return &WebhookTransport{url: url, client: client}
}

// Send posts the message to the webhook.
func (t *WebhookTransport) Send(ctx context.Context, to Recipient, message string) error {
	body, err := sonic.Marshal(webhookPayload{
		Content:     message,
		Recipient:   to.Kind.String(),
		RecipientID: to.ID,
		GuildID:     to.GuildID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrWebhookStatus, resp.StatusCode)
	}

	return nil
}

// leveledZap adapts zap to the retryablehttp logger interface.
// Request errors are logged as warnings because they are retried.
type leveledZap struct {
	logger *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...any) {
	l.logger.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...any) {
	l.logger.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}
