package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/catalog-feed/internal/config"
	"github.com/couchcryptid/catalog-feed/internal/domain"
)

// Writer publishes feed load events to a Kafka topic.
// It implements domain.EventPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured events topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaEventsTopic,
		Balancer:     &kafkago.Hash{}, // events of one feed stay ordered
		RequiredAcks: kafkago.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes load events in a single WriteMessages call.
func (w *Writer) Publish(ctx context.Context, events ...domain.LoadEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write load events: %w", err)
	}
	w.logger.Debug("published load events", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a LoadEvent into a Kafka message keyed by its
// query key.
func serializeToMessage(event domain.LoadEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize load event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.QueryKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "outcome", Value: []byte(event.Outcome)},
			{Key: "occurred_at", Value: []byte(event.OccurredAt.Format(time.RFC3339))},
		},
	}, nil
}

// DecodeEvent decodes a message written by Publish, for consumers of the
// events topic.
func DecodeEvent(msg kafkago.Message) (domain.LoadEvent, error) {
	var event domain.LoadEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return domain.LoadEvent{}, fmt.Errorf("deserialize load event: %w", err)
	}
	return event, nil
}
