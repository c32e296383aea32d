package sender

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable error", &RetryableError{Code: 503, Message: "down"}, true},
		{"permanent error", &PermanentError{Code: 400, Message: "bad request"}, false},
		{"plain error defaults to retryable", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"retryable with code", &RetryableError{Code: 429, Message: "slow down"}, 429},
		{"permanent with code", &PermanentError{Code: 404, Message: "gone"}, 404},
		{"no code", &RetryableError{Message: "timeout"}, 0},
		{"plain error", errors.New("boom"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "send error 503: down", (&RetryableError{Code: 503, Message: "down"}).Error())
	assert.Equal(t, "send error: timeout", (&RetryableError{Message: "timeout"}).Error())
	assert.Equal(t, "send error 400: rejected", (&PermanentError{Code: 400, Message: "rejected"}).Error())
	assert.Equal(t, "send error: no chat", (&PermanentError{Message: "no chat"}).Error())
}
