// Package telegram provides notification sending via the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/sender"
)

const (
	defaultAPIURL    = "https://api.telegram.org/bot%s/sendMessage"
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 25.0 // messages per second, below Telegram's 30/s cap
)

// chatIDField is the payload field carrying the destination chat.
const chatIDField = "chat_id"

// Config holds telegram sender configuration.
type Config struct {
	BotToken      string
	DefaultChatID string  // used when the payload carries no chat_id field
	RateLimit     float64 // messages per second
	Timeout       time.Duration
}

// Sender implements sender.Sender against the Telegram Bot API. Outbound
// calls go through a token bucket so a large batch cannot trip Telegram's
// per-bot rate limit.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

var _ sender.Sender = (*Sender)(nil)

// NewSender creates a new telegram sender.
func NewSender(config Config) (*Sender, error) {
	if config.BotToken == "" {
		return nil, errors.New("telegram sender: bot token is required")
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}

	slog.Info("telegram sender configured", "rate_limit", config.RateLimit)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     defaultAPIURL,
	}, nil
}

// Name returns the transport name.
func (s *Sender) Name() string {
	return "telegram"
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// Send delivers the payload text to the chat named in the payload's chat_id
// field, or the configured default chat.
func (s *Sender) Send(ctx context.Context, payload queue.Payload) error {
	chatID := payload.Fields[chatIDField]
	if chatID == "" {
		chatID = s.config.DefaultChatID
	}
	if chatID == "" {
		return &sender.PermanentError{Message: "no chat id in payload and no default configured"}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return &sender.RetryableError{Message: fmt.Sprintf("rate limiter wait: %v", err)}
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    chatID,
		Text:      payload.Text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(s.apiURL, s.config.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &sender.RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return s.handleResponse(resp, chatID)
}

func (s *Sender) handleResponse(resp *http.Response, chatID string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &sender.RetryableError{Message: fmt.Sprintf("read response: %v", err)}
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(body, &tgResp); err == nil && tgResp.OK {
		slog.Debug("telegram message sent", "chat_id", chatID)
		return nil
	}

	message := tgResp.Description
	if message == "" {
		message = string(body)
	}

	// The Bot API mirrors its error_code in the HTTP status, but only the
	// JSON field is reliable when proxies rewrite the status line.
	code := resp.StatusCode
	if tgResp.ErrorCode != 0 {
		code = tgResp.ErrorCode
	}

	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return &sender.PermanentError{Code: code, Message: message}

	case http.StatusTooManyRequests:
		return &sender.RetryableError{Code: code, Message: message}

	default:
		if code >= 500 {
			return &sender.RetryableError{Code: code, Message: message}
		}
		return &sender.RetryableError{Code: code, Message: fmt.Sprintf("unexpected response: %s", message)}
	}
}
