// Package kafka publishes per-query analytics records. Publishing is fire
// and forget from the caller's perspective: the pipeline logs failures but
// never fails a query over analytics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/geo-query-service/internal/domain"
)

// Writer produces query audits to a Kafka topic.
// It implements pipeline.AnalyticsPublisher.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the analytics topic.
func NewWriter(brokers []string, topic string, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes and writes one query audit.
func (w *Writer) Publish(ctx context.Context, audit domain.QueryAudit) error {
	msg, err := serializeToMessage(audit)
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a QueryAudit into a Kafka message.
func serializeToMessage(audit domain.QueryAudit) (kafkago.Message, error) {
	data, err := json.Marshal(audit)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize query audit: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(audit.RequestID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "response_type", Value: []byte(audit.ResponseType)},
			{Key: "received_at", Value: []byte(audit.ReceivedAt.Format(time.RFC3339))},
		},
	}, nil
}
