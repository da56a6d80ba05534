package outbox

import (
	"context"
	"fmt"
	"maps"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/dmehra2102/order-service/pkg/broker"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, events []Event) error
}

// Publisher is a broker.Publisher that writes messages to the outbox table
// instead of the broker. The relay delivers them afterwards.
type Publisher struct {
	store Enqueuer
}

func NewPublisher(store Enqueuer) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Send(ctx context.Context, topic string, msgs ...broker.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	events := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		headers := make(map[string]string, len(m.Headers))
		maps.Copy(headers, m.Headers)
		events = append(events, Event{
			Topic:       topic,
			Key:         m.Key,
			Payload:     m.Value,
			Headers:     headers,
			Traceparent: carrier.Get(TraceparentHeader),
			Status:      StatusPending,
		})
	}
	if err := p.store.Enqueue(ctx, events); err != nil {
		return fmt.Errorf("%w: enqueue %d messages for %s: %v", broker.ErrDelivery, len(msgs), topic, err)
	}
	return nil
}
