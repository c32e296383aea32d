// Package webhook provides notification sending to a generic HTTP webhook
// endpoint.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/sender"
)

const defaultTimeout = 10 * time.Second

// Config holds webhook sender configuration.
type Config struct {
	URL       string
	AuthToken string // optional bearer token
	Timeout   time.Duration
}

// Sender implements sender.Sender by POSTing the payload as JSON to a fixed
// endpoint. Retries stay with the queue: the client itself never retries.
type Sender struct {
	config Config
	client *resty.Client
}

var _ sender.Sender = (*Sender)(nil)

// NewSender creates a new webhook sender.
func NewSender(config Config) (*Sender, error) {
	if config.URL == "" {
		return nil, errors.New("webhook sender: url is required")
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	if config.AuthToken != "" {
		client.SetAuthToken(config.AuthToken)
	}

	return &Sender{
		config: config,
		client: client,
	}, nil
}

// Name returns the transport name.
func (s *Sender) Name() string {
	return "webhook"
}

type webhookPayload struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Send posts the payload to the configured endpoint.
func (s *Sender) Send(ctx context.Context, payload queue.Payload) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(webhookPayload{Text: payload.Text, Fields: payload.Fields}).
		Post(s.config.URL)
	if err != nil {
		return &sender.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil

	case code == http.StatusTooManyRequests:
		return &sender.RetryableError{Code: code, Message: "rate limited"}

	case code >= 500:
		return &sender.RetryableError{Code: code, Message: fmt.Sprintf("server error: %s", resp.String())}

	default:
		return &sender.PermanentError{Code: code, Message: fmt.Sprintf("rejected: %s", resp.String())}
	}
}
