package outbox

import (
	"context"
	"log/slog"
	"maps"

	"github.com/dmehra2102/order-service/pkg/broker"
)

const TraceparentHeader = "traceparent"

// Dispatcher forwards leased outbox events to the broker.
type Dispatcher struct {
	log *slog.Logger
	pub broker.Publisher
}

func NewDispatcher(log *slog.Logger, pub broker.Publisher) *Dispatcher {
	return &Dispatcher{log: log, pub: pub}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event Event) error {
	headers := make(map[string]string, len(event.Headers)+1)
	maps.Copy(headers, event.Headers)
	if event.Traceparent != "" {
		headers[TraceparentHeader] = event.Traceparent
	}

	msg := broker.Message{Key: event.Key, Value: event.Payload, Headers: headers}
	if err := d.pub.Send(ctx, event.Topic, msg); err != nil {
		d.log.Error("outbox dispatch failed", "event_id", event.ID, "topic", event.Topic, "err", err)
		return err
	}
	d.log.Debug("outbox dispatched", "event_id", event.ID, "topic", event.Topic, "key", event.Key)
	return nil
}
