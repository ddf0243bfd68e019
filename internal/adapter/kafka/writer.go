package kafka

import (
	"context"
	"log/slog"
	"slices"

	"github.com/couchcryptid/watertag-etl/internal/config"
	"github.com/couchcryptid/watertag-etl/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces job results to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch publishes serialized job results in a single WriteMessages call.
// Results are keyed by job ID, so the hash balancer keeps every result for a
// job on one partition.
func (w *Writer) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i, e := range events {
		msgs[i] = toMessage(e)
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return err
	}
	w.logger.Debug("results published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// toMessage converts an output event into a Kafka message with headers in
// sorted key order.
func toMessage(e domain.OutputEvent) kafkago.Message {
	msg := kafkago.Message{Key: e.Key, Value: e.Value}
	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		msg.Headers = append(msg.Headers, kafkago.Header{Key: k, Value: []byte(e.Headers[k])})
	}
	return msg
}
