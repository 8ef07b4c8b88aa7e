// Package redpanda publishes submission events to Redpanda or any Kafka
// compatible broker.
package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// DefaultTopic receives submission events when no topic is configured.
const DefaultTopic = "ielts-submissions"

// kafkaClient is the subset of *kgo.Client the producer uses.
type kafkaClient interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Request(ctx context.Context, req kmsg.Request) (kmsg.Response, error)
	Ping(ctx context.Context) error
	Close()
}

// Producer implements domain.EventPublisher on top of a franz-go client.
type Producer struct {
	client kafkaClient
	topic  string
}

// NewProducer connects to brokers and makes sure topic exists.
func NewProducer(ctx context.Context, brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w: no seed brokers provided", domain.ErrInvalidArgument)
	}
	if topic == "" {
		topic = DefaultTopic
	}
	slog.Info("creating redpanda producer", slog.Any("brokers", brokers), slog.String("topic", topic))

	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))),
	)
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.DialTimeout(10*time.Second),
		kgo.WithHooks(kotelService.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	p := newProducer(client, topic)
	if err := p.EnsureTopic(ctx, 1, 1); err != nil {
		// The broker may forbid topic creation; producing still works when the topic exists.
		slog.Warn("failed to ensure topic", slog.String("topic", topic), slog.Any("error", err))
	}
	return p, nil
}

func newProducer(c kafkaClient, topic string) *Producer {
	return &Producer{client: c, topic: topic}
}

// Topic returns the topic events are written to.
func (p *Producer) Topic() string { return p.topic }

// EnsureTopic creates the events topic unless it already exists.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	return createTopicIfNotExists(ctx, p.client, p.topic, partitions, replicationFactor)
}

// Publish writes ev keyed by owner so an owner's events stay ordered.
func (p *Producer) Publish(ctx context.Context, ev domain.SubmissionEvent) error {
	if ev.Type == "" || ev.SubmissionID == "" {
		return fmt.Errorf("op=redpanda.Publish: %w: event type and submission id are required", domain.ErrInvalidArgument)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=redpanda.Publish: marshal: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.OwnerID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "submission_id", Value: []byte(ev.SubmissionID)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("op=redpanda.Publish: %w", errors.Join(domain.ErrUpstream, err))
	}
	slog.Debug("submission event published",
		slog.String("event", ev.Type),
		slog.String("submission_id", ev.SubmissionID),
		slog.String("topic", p.topic))
	return nil
}

// Close closes the client.
// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("op=redpanda.Ping: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
