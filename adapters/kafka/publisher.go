// Package kafka publishes committed records to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rcknight/ESSnapshots/core/es"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PublisherConfig struct {
	Brokers []string
	Topic   string
	Log     *slog.Logger
	// Writer overrides the writer built from Brokers and Topic.
	Writer MessageWriter
}

// Publisher implements es.Publisher. Messages are keyed by stream so every
// stream lands on one partition and keeps its order.
type Publisher struct {
	writer MessageWriter
	log    *slog.Logger
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	w := cfg.Writer
	if w == nil {
		if len(cfg.Brokers) == 0 || cfg.Topic == "" {
			return nil, fmt.Errorf("kafka brokers and topic are required")
		}
		w = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		}
	}
	return &Publisher{
		writer: w,
		log:    cfg.Log.With(slog.String("publisher", "kafka"), slog.String("topic", cfg.Topic)),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, records []es.Record) error {
	if len(records) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(r.Stream),
			Value: data,
			Time:  r.OccurredAt,
			Headers: []kafka.Header{
				{Key: "record-id", Value: []byte(r.ID)},
				{Key: "record-type", Value: []byte(r.Type)},
				{Key: "stream-version", Value: []byte(strconv.FormatInt(r.Version.Int64(), 10))},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	p.log.Debug("published", slog.String("stream", records[0].Stream), slog.Int("num_records", len(msgs)))
	return nil
}

func (p *Publisher) Close() error { return p.writer.Close() }

var _ es.Publisher = (*Publisher)(nil)
