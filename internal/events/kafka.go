package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/karprabha/snowjob-backend/internal/backoff"
	"github.com/karprabha/snowjob-backend/internal/domain"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers        []string
	Topic          string
	PublishTimeout time.Duration
	RetryAttempts  int
}

// KafkaPublisher writes events keyed by job ID, so all events for one job
// land on one partition in order.
type KafkaPublisher struct {
	writer   messageWriter
	timeout  time.Duration
	attempts int
	backoff  backoff.Strategy
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("events/kafka: brokers and topic are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(writer, cfg), nil
}

func newKafkaPublisher(w messageWriter, cfg KafkaConfig) *KafkaPublisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &KafkaPublisher{
		writer:   w,
		timeout:  timeout,
		attempts: attempts,
		backoff:  backoff.NewExponential(100*time.Millisecond, 2*time.Second, 2),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.TransitionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events/kafka: encode: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.JobID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(event.Kind)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = backoff.Retry(ctx, p.attempts, p.backoff, func(ctx context.Context) error {
		return p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("events/kafka: publish %s for job %s: %w", event.Kind, event.JobID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
