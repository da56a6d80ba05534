package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dmehra2102/order-service/pkg/broker"
)

type failingEnqueuer struct{ err error }

func (f failingEnqueuer) Enqueue(context.Context, []Event) error { return f.err }

func TestPublisherEnqueuesWithTraceparent(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "create")
	defer span.End()

	store := &memStore{}
	p := NewPublisher(store)
	headers := map[string]string{"source": "order-service"}

	err := p.Send(ctx, "order-created",
		broker.Message{Key: "ORDER-#1-P1", Value: []byte(`{"productId":"P1","quantity":2}`), Headers: headers},
		broker.Message{Key: "ORDER-#1-P2", Value: []byte(`{"productId":"P2","quantity":1}`)},
	)
	require.NoError(t, err)

	require.Len(t, store.events, 2)
	ev := store.events[0]
	assert.Equal(t, "order-created", ev.Topic)
	assert.Equal(t, "ORDER-#1-P1", ev.Key)
	assert.Equal(t, StatusPending, ev.Status)
	assert.Equal(t, "order-service", ev.Headers["source"])
	assert.Contains(t, ev.Traceparent, span.SpanContext().TraceID().String())

	headers["source"] = "mutated"
	assert.Equal(t, "order-service", store.events[0].Headers["source"])
}

func TestPublisherWrapsEnqueueFailure(t *testing.T) {
	p := NewPublisher(failingEnqueuer{err: errors.New("tx aborted")})

	err := p.Send(context.Background(), "order-cancelled", broker.Message{Key: "k"})
	require.ErrorIs(t, err, broker.ErrDelivery)
	assert.Contains(t, err.Error(), "tx aborted")
}

func TestPublisherEmptyBatch(t *testing.T) {
	p := NewPublisher(failingEnqueuer{err: errors.New("unused")})
	assert.NoError(t, p.Send(context.Background(), "order-created"))
}

func TestDispatcherAddsTraceparentHeader(t *testing.T) {
	b := &fakeBroker{}
	d := NewDispatcher(discard, b)

	err := d.Dispatch(context.Background(), Event{
		ID:          9,
		Topic:       "order-created",
		Key:         "ORDER-#3-P1",
		Payload:     []byte("{}"),
		Headers:     map[string]string{"source": "order-service"},
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})
	require.NoError(t, err)

	require.Len(t, b.got, 1)
	got := b.got[0].msg
	assert.Equal(t, "order-service", got.Headers["source"])
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", got.Headers[TraceparentHeader])
}
