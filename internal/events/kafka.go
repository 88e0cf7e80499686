package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes status events to a Kafka topic for the store's audit
// pipeline. The writer is asynchronous so Broadcast never waits on brokers.
type KafkaSink struct {
	writer  messageWriter
	metrics metrics.Recorder
	mu      sync.Mutex
	closed  bool
}

// NewKafkaSink creates a sink writing to topic on brokers. rec may be nil.
func NewKafkaSink(brokers []string, topic string, rec metrics.Recorder) *KafkaSink {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Async:        true,
		WriteTimeout: config.KafkaWriteTimeout,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				rec.IncCounter(metrics.EventDropped, map[string]string{metrics.LabelOutcome: "kafka"})
				slog.Warn("kafka status write failed",
					"topic", topic,
					"messages", len(messages),
					"error", err,
				)
			}
		},
	}

	slog.Info("kafka status sink created",
		"brokers", brokers,
		"topic", topic,
	)
	return &KafkaSink{writer: w, metrics: rec}
}

func (k *KafkaSink) Broadcast(event models.StatusEvent) {
	msg, err := toMessage(event)
	if err != nil {
		slog.Error("failed to marshal status event", "eventType", event.Type, "error", err)
		return
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}

	if err := k.writer.WriteMessages(context.Background(), msg); err != nil {
		k.metrics.IncCounter(metrics.EventDropped, map[string]string{metrics.LabelOutcome: "kafka"})
		slog.Warn("kafka status enqueue failed",
			"eventType", event.Type,
			"error", err,
		)
	}
}

// Close flushes pending messages and closes the writer.
func (k *KafkaSink) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	return k.writer.Close()
}

// toMessage keys events by cycle so one cycle's events stay ordered within a
// partition.
func toMessage(event models.StatusEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.CycleID),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}, nil
}
