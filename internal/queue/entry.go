package queue

import "time"

// Status represents the lifecycle state of a queue entry.
type Status string

// Entry statuses.
const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusRetry   Status = "retry"
	StatusFailed  Status = "failed"
)

// Statuses lists all entry statuses in a stable order, for stats and metrics.
var Statuses = []Status{StatusPending, StatusSending, StatusSent, StatusRetry, StatusFailed}

// Terminal reports whether the status is final. Terminal entries are removed
// from the priority indexes and never dispatched again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Dispatchable reports whether an entry in this status is eligible for
// dequeue. A persisted sending status is only ever observed between cycles
// when a previous cycle's final status write was lost; re-dispatching it is
// what makes delivery at-least-once instead of at-most-once.
func (s Status) Dispatchable() bool {
	return s == StatusPending || s == StatusRetry || s == StatusSending
}

// validTransitions defines the status state machine:
// pending -> sending -> {sent | retry | failed}, retry -> sending, and
// sending -> sending for re-claiming an entry whose outcome write was lost.
var validTransitions = map[Status][]Status{
	StatusPending: {StatusSending},
	StatusSending: {StatusSending, StatusSent, StatusRetry, StatusFailed},
	StatusRetry:   {StatusSending},
}

func canTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Payload is the opaque message body of an entry. The queue never interprets
// it; Fields carries transport-specific values (chat ids, routing hints)
// consumed only by the sender.
type Payload struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SendError records the last transport failure of an entry.
type SendError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Entry is one notification job in the queue.
//
// QueueID and Priority are assigned at enqueue time and immutable. Status
// changes only through Core.UpdateStatus.
type Entry struct {
	QueueID     string     `json:"queue_id"`
	TenantID    string     `json:"tenant_id"`
	OriginID    string     `json:"origin_id"`
	OriginClass string     `json:"origin_class,omitempty"`
	Payload     Payload    `json:"payload"`
	Priority    int        `json:"priority"`
	Status      Status     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LastError   *SendError `json:"last_error,omitempty"`
}
