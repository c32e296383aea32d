// Package sender defines the outbound notification transport contract and
// the retryable/permanent error classification the dispatcher relies on.
package sender

import (
	"context"

	"github.com/bissquit/notifyq/internal/queue"
)

// Sender performs the actual outbound call for a queue entry's payload.
// Implementations classify their failures via RetryableError/PermanentError
// and carry their own request timeout; a timed-out send is a retryable error.
type Sender interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// Send delivers the payload. A nil return means the message was
	// accepted by the downstream endpoint.
	Send(ctx context.Context, payload queue.Payload) error
}
