package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/dmehra2102/order-service/pkg/broker"
	"github.com/dmehra2102/order-service/pkg/tracing"
)

const DefaultPublishMaxElapsed = 5 * time.Second

// NewWriter returns a writer without a fixed topic; every message names its
// own. Keys hash to partitions so events of one order stay ordered.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishRecorder counts publish attempts per topic.
type PublishRecorder interface {
	Publish(topic string, n int, err error)
}

type nopPublishRecorder struct{}

func (nopPublishRecorder) Publish(string, int, error) {}

type PublisherOption func(*Publisher)

func WithMaxElapsed(d time.Duration) PublisherOption      { return func(p *Publisher) { p.maxElapsed = d } }
func WithRecorder(r PublishRecorder) PublisherOption      { return func(p *Publisher) { p.rec = r } }
func WithInitialInterval(d time.Duration) PublisherOption { return func(p *Publisher) { p.initial = d } }

// Publisher is the broker.Publisher backed by Kafka.
type Publisher struct {
	log        *slog.Logger
	w          messageWriter
	rec        PublishRecorder
	maxElapsed time.Duration
	initial    time.Duration
}

func NewPublisher(log *slog.Logger, w messageWriter, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		log:        log,
		w:          w,
		rec:        nopPublishRecorder{},
		maxElapsed: DefaultPublishMaxElapsed,
		initial:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Send writes msgs to topic, retrying with exponential backoff until the
// broker acknowledges all of them or maxElapsed runs out. A retried batch may
// be written twice; consumers are expected to tolerate duplicates.
func (p *Publisher) Send(ctx context.Context, topic string, msgs ...broker.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	kmsgs := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		headers := make([]kafka.Header, 0, len(m.Headers)+1)
		for k, v := range m.Headers {
			headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		kmsgs = append(kmsgs, kafka.Message{
			Topic:   topic,
			Key:     []byte(m.Key),
			Value:   m.Value,
			Headers: tracing.InjectKafkaHeaders(ctx, headers),
		})
	}

	attempt := 0
	op := func() error {
		attempt++
		err := p.w.WriteMessages(ctx, kmsgs...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		p.log.Warn("kafka write failed, retrying", "topic", topic, "attempt", attempt, "err", err)
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(p.backoff(), ctx))
	p.rec.Publish(topic, len(msgs), err)
	if err != nil {
		return fmt.Errorf("%w: publish %d messages to %s after %d attempts: %v", broker.ErrDelivery, len(msgs), topic, attempt, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

func (p *Publisher) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initial
	b.MaxElapsedTime = p.maxElapsed
	return b
}

// Connect blocks until one of brokers accepts a connection, backing off
// between rounds, or ctx is done.
func Connect(ctx context.Context, log *slog.Logger, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	op := func() error {
		var errs error
		for _, addr := range brokers {
			conn, err := kafka.DialContext(ctx, "tcp", addr)
			if err == nil {
				return conn.Close()
			}
			errs = errors.Join(errs, err)
		}
		log.Warn("kafka not reachable yet", "brokers", brokers, "err", errs)
		return errs
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// EnsureTopics creates any missing topic through the cluster controller.
func EnsureTopics(ctx context.Context, brokers []string, partitions int, topics ...string) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	cconn, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer cconn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{Topic: t, NumPartitions: partitions, ReplicationFactor: 1})
	}
	if err := cconn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return err
	}
	return nil
}
