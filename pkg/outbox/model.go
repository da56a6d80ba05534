package outbox

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

// Event is one message waiting in the outbox table for the relay.
type Event struct {
	ID          int64
	Topic       string
	Key         string
	Payload     []byte
	Headers     map[string]string
	Traceparent string
	CreatedAt   time.Time
	Status      Status
	RelayID     string
	RetryCount  int
	LastError   *string
}
