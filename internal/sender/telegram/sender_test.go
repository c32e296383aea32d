package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notifyq/internal/queue"
	"github.com/bissquit/notifyq/internal/sender"
)

func newTestSender(t *testing.T, handler http.HandlerFunc) *Sender {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s, err := NewSender(Config{
		BotToken:      "test-token",
		DefaultChatID: "default-chat",
		RateLimit:     1000, // keep tests fast
	})
	require.NoError(t, err)
	s.apiURL = srv.URL + "/bot%s/sendMessage"
	return s
}

func TestNewSender_RequiresToken(t *testing.T) {
	_, err := NewSender(Config{})
	assert.Error(t, err)
}

func TestSender_Send(t *testing.T) {
	var received sendMessageRequest
	var gotPath string

	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	err := s.Send(context.Background(), queue.Payload{
		Text:   "disk full",
		Fields: map[string]string{"chat_id": "42"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "42", received.ChatID)
	assert.Equal(t, "disk full", received.Text)
	assert.Equal(t, "HTML", received.ParseMode)
}

func TestSender_SendFallsBackToDefaultChat(t *testing.T) {
	var received sendMessageRequest

	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	err := s.Send(context.Background(), queue.Payload{Text: "msg"})
	require.NoError(t, err)
	assert.Equal(t, "default-chat", received.ChatID)
}

func TestSender_SendNoChatIsPermanent(t *testing.T) {
	s, err := NewSender(Config{BotToken: "test-token", RateLimit: 1000})
	require.NoError(t, err)

	err = s.Send(context.Background(), queue.Payload{Text: "msg"})
	require.Error(t, err)
	assert.False(t, sender.IsRetryable(err))
}

func TestSender_SendClassifiesErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantCode      int
	}{
		{
			name:          "bad request is permanent",
			status:        http.StatusBadRequest,
			body:          `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			wantRetryable: false,
			wantCode:      400,
		},
		{
			name:          "unauthorized is permanent",
			status:        http.StatusUnauthorized,
			body:          `{"ok":false,"error_code":401,"description":"Unauthorized"}`,
			wantRetryable: false,
			wantCode:      401,
		},
		{
			name:          "forbidden is permanent",
			status:        http.StatusForbidden,
			body:          `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked"}`,
			wantRetryable: false,
			wantCode:      403,
		},
		{
			name:          "too many requests is retryable",
			status:        http.StatusTooManyRequests,
			body:          `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":5}}`,
			wantRetryable: true,
			wantCode:      429,
		},
		{
			name:          "server error is retryable",
			status:        http.StatusBadGateway,
			body:          `{"ok":false,"error_code":502,"description":"Bad Gateway"}`,
			wantRetryable: true,
			wantCode:      502,
		},
		{
			name:          "error behind a 200 proxy",
			status:        http.StatusOK,
			body:          `{"ok":false,"error_code":400,"description":"Bad Request: message is too long"}`,
			wantRetryable: false,
			wantCode:      400,
		},
		{
			name:          "garbage body is retryable",
			status:        http.StatusOK,
			body:          `<html>gateway error</html>`,
			wantRetryable: true,
			wantCode:      200,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := s.Send(context.Background(), queue.Payload{Text: "msg"})
			require.Error(t, err)
			assert.Equal(t, tt.wantRetryable, sender.IsRetryable(err))
			assert.Equal(t, tt.wantCode, sender.StatusCode(err))
		})
	}
}

func TestSender_SendConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	s, err := NewSender(Config{BotToken: "test-token", DefaultChatID: "c", RateLimit: 1000})
	require.NoError(t, err)
	s.apiURL = srv.URL + "/bot%s/sendMessage"

	err = s.Send(context.Background(), queue.Payload{Text: "msg"})
	require.Error(t, err)
	assert.True(t, sender.IsRetryable(err))
}

func TestSender_Name(t *testing.T) {
	s, err := NewSender(Config{BotToken: "test-token"})
	require.NoError(t, err)
	assert.Equal(t, "telegram", s.Name())
}
