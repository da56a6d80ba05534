package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-service/internal/order/application"
	"github.com/dmehra2102/order-service/internal/order/domain"
	"github.com/dmehra2102/order-service/pkg/broker"
	"github.com/dmehra2102/order-service/pkg/idempotency"
	"github.com/dmehra2102/order-service/pkg/tracing"
)

const (
	TopicCreateCommand  = "order.create"
	TopicCancelCommand  = "order.cancel"
	TopicListCommand    = "order.get-orders-by-buyerId"
	DefaultGroupID      = "order-service-consumer"
	ReplyTopicHeader    = "kafka_replyTopic"
	CorrelationIDHeader = "kafka_correlationId"
)

var CommandTopics = []string{TopicCreateCommand, TopicCancelCommand, TopicListCommand}

type Service interface {
	CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) application.Result
	CancelOrder(ctx context.Context, cmd application.CancelOrderCommand) application.Result
	OrdersByBuyer(ctx context.Context, q application.ListOrdersQuery) ([]domain.Order, error)
}

// Deduper remembers handled deliveries. Mark is only called once a message
// has been handled, so a crash before that point gets the message replayed.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewReader(brokers []string, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: CommandTopics,
	})
}

// Consumer serves order commands arriving on the broker. Results go back on
// the reply topic named by the message, if any.
type Consumer struct {
	log     *slog.Logger
	reader  messageReader
	svc     Service
	dedupe  Deduper
	replies broker.Publisher
	tracer  trace.Tracer
}

func NewConsumer(log *slog.Logger, reader messageReader, svc Service, dedupe Deduper, replies broker.Publisher) *Consumer {
	return &Consumer{
		log:     log,
		reader:  reader,
		svc:     svc,
		dedupe:  dedupe,
		replies: replies,
		tracer:  otel.Tracer("order-consumer"),
	}
}

// Run consumes until ctx is done. It returns nil on shutdown and the reader
// error otherwise.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		key := idempotency.Key(msg.Topic, msg.Partition, msg.Offset)
		seen, err := c.dedupe.Seen(ctx, key)
		if err != nil {
			c.log.Warn("idempotency check failed, processing anyway", "key", key, "err", err)
		}
		if seen {
			c.log.Info("duplicate message skipped", "key", key)
			c.commit(ctx, msg)
			continue
		}

		c.handle(ctx, msg)

		if ctx.Err() != nil {
			// Interrupted by shutdown; the redelivery runs it again.
			return nil
		}
		if err := c.dedupe.Mark(ctx, key); err != nil {
			c.log.Warn("idempotency mark failed", "key", key, "err", err)
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "Consume "+msg.Topic, trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)

	reply, err := c.dispatch(msgCtx, msg)
	if err != nil {
		c.log.Error("command handling failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		return
	}

	replyTopic := tracing.HeaderValue(msg.Headers, ReplyTopicHeader)
	if replyTopic == "" {
		return
	}
	headers := map[string]string{}
	if id := tracing.HeaderValue(msg.Headers, CorrelationIDHeader); id != "" {
		headers[CorrelationIDHeader] = id
	}
	if err := c.replies.Send(msgCtx, replyTopic, broker.Message{Key: string(msg.Key), Value: reply, Headers: headers}); err != nil {
		c.log.Error("reply publish failed", "reply_topic", replyTopic, "err", err)
	}
}

// dispatch decodes a command and returns the encoded reply. Malformed payloads
// are answered with VALIDATION_FAILED rather than dropped.
func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) ([]byte, error) {
	switch msg.Topic {
	case TopicCreateCommand:
		var cmd application.CreateOrderCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return json.Marshal(application.InvalidRequest("invalid create command: " + err.Error()))
		}
		return json.Marshal(c.svc.CreateOrder(ctx, cmd))

	case TopicCancelCommand:
		var cmd application.CancelOrderCommand
		if err := json.Unmarshal(msg.Value, &cmd); err != nil {
			return json.Marshal(application.InvalidRequest("invalid cancel command: " + err.Error()))
		}
		return json.Marshal(c.svc.CancelOrder(ctx, cmd))

	case TopicListCommand:
		var q application.ListOrdersQuery
		if err := json.Unmarshal(msg.Value, &q); err != nil {
			return json.Marshal(application.InvalidRequest("invalid query: " + err.Error()))
		}
		orders, err := c.svc.OrdersByBuyer(ctx, q)
		if err != nil {
			return json.Marshal(application.ErrorResult(err))
		}
		return json.Marshal(application.NewOrderViews(orders))
	}
	return nil, errors.New("unexpected topic " + msg.Topic)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.log.Error("commit failed", "topic", msg.Topic, "offset", msg.Offset, "err", err)
	}
}
