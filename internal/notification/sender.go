// Package notification resolves who hears about a request transition and
// delivers the messages.
//
// Recipients are resolved synchronously so the history entries commit with
// the transition; delivery happens afterwards on the notify pool and never
// fails the transition.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// Message is one delivery to one recipient.
type Message struct {
	Recipient     string                   `json:"recipient"`
	RecipientName string                   `json:"recipient_name,omitempty"`
	Channel       string                   `json:"channel"`
	Event         domain.NotificationEvent `json:"event"`
	Title         string                   `json:"title"`
	Body          string                   `json:"body"`
	RequestID     string                   `json:"request_id"`
	Company       string                   `json:"company"`
	MasterType    domain.MasterType        `json:"master_type"`
	MasterName    string                   `json:"master_name"`
	Timestamp     time.Time                `json:"timestamp"`
}

// Sender delivers a message over some channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the structured log. It is the default when
// no outbound channel is configured.
type LogSender struct{}

// NewLogSender creates a LogSender.
func NewLogSender() *LogSender { return &LogSender{} }

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return fmt.Errorf("notification message invalid: %w", err)
	}
	logger.Info("Notification",
		zap.String("recipient", msg.Recipient),
		zap.String("event", string(msg.Event)),
		zap.String("title", msg.Title),
		logger.RequestID(msg.RequestID),
	)
	return nil
}

// WebhookSender posts each message as JSON to a fixed URL.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. timeout bounds each post.
func NewWebhookSender(url string, timeout time.Duration, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookSender{url: url, client: client}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return fmt.Errorf("notification message invalid: %w", err)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// compile-time checks
var (
	_ Sender = (*LogSender)(nil)
	_ Sender = (*WebhookSender)(nil)
)

func validateMessage(m Message) error {
	if m.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}
