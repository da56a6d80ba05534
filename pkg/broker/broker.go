// Package broker is the message delivery contract shared by the Kafka
// publisher and the outbox.
package broker

import (
	"context"
	"errors"
)

// ErrDelivery marks a message the broker did not acknowledge.
var ErrDelivery = errors.New("delivery error")

type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher delivers a batch of messages to one topic. Implementations must be
// safe for concurrent use and wrap delivery failures with ErrDelivery.
type Publisher interface {
	Send(ctx context.Context, topic string, msgs ...Message) error
}
