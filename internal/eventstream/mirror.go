// Package eventstream mirrors dispatched pipeline events onto a Kafka topic
// for downstream consumers such as the warehouse loader. The mirror is
// best-effort; the workflow store remains the source of truth.
package eventstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salespipeline_backend/platform/config"
	"salespipeline_backend/platform/events"
	"salespipeline_backend/platform/logger"

	"github.com/segmentio/kafka-go"
)

const (
	defaultMaxAttempts  = 3
	defaultWriteTimeout = 10 * time.Second
	retryBackoff        = 200 * time.Millisecond
)

// Writer is the subset of *kafka.Writer the mirror needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Options struct {
	Writer       Writer
	MaxAttempts  int
	WriteTimeout time.Duration
	Logger       *logger.Logger
}

// Mirror is an events.Handler that writes every event it sees to Kafka,
// keyed by account so one account's events stay ordered on a partition.
type Mirror struct {
	writer       Writer
	maxAttempts  int
	writeTimeout time.Duration
	log          *logger.Logger
}

func NewMirror(opts Options) *Mirror {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	return &Mirror{
		writer:       opts.Writer,
		maxAttempts:  opts.MaxAttempts,
		writeTimeout: opts.WriteTimeout,
		log:          opts.Logger,
	}
}

// NewKafkaWriter builds the hash-balanced writer for cfg.
func NewKafkaWriter(cfg config.KafkaConfig) (*kafka.Writer, error) {
	if len(cfg.GetKafkaBrokers()) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if cfg.GetKafkaTopic() == "" {
		return nil, errors.New("kafka: topic required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.GetKafkaBrokers()...),
		Topic:        cfg.GetKafkaTopic(),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: defaultWriteTimeout,
	}, nil
}

// Attach subscribes the mirror to every event on bus.
func (m *Mirror) Attach(bus events.Bus) {
	bus.Subscribe(events.Wildcard, m)
}

// Message converts an event into the record written to the topic. The
// envelope id from ctx is kept so consumers can deduplicate.
func Message(ctx context.Context, event events.Event) (kafka.Message, error) {
	env, err := events.Seal(events.EnvelopeIDFrom(ctx), event)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", env.Name, err)
	}
	key := env.AccountID
	if key == "" {
		key = env.Name
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_name", Value: []byte(env.Name)},
			{Key: "event_id", Value: []byte(env.ID)},
		},
	}, nil
}

// Handle writes event with retries.
func (m *Mirror) Handle(ctx context.Context, event events.Event) error {
	msg, err := Message(ctx, event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		lastErr = m.writer.WriteMessages(writeCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		m.log.Warn("event_mirror_write_failed", "event", event.EventName(), "attempt", attempt, "error", lastErr)
		if attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return fmt.Errorf("mirror %s after %d attempts: %w", event.EventName(), m.maxAttempts, lastErr)
}

func (m *Mirror) Close() error {
	return m.writer.Close()
}

var _ events.Handler = (*Mirror)(nil)
