package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogEmitter writes every event to the structured log.
type LogEmitter struct {
	logger *zap.Logger
}

// NewLogEmitter creates a log-backed emitter.
func NewLogEmitter(logger *zap.Logger) *LogEmitter {
	return &LogEmitter{logger: logger.Named("events")}
}

func (e *LogEmitter) Emit(_ context.Context, ev Event) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID.String()),
		zap.String("type", string(ev.Type)),
		zap.String("actor", ev.Actor.Hex()),
		zap.Time("at", ev.At),
	}
	if ev.AuctionID != 0 {
		fields = append(fields, zap.Uint64("auction_id", ev.AuctionID))
	}
	for k, v := range ev.Fields {
		fields = append(fields, zap.String(k, v))
	}
	e.logger.Info("settlement event", fields...)
}

// KafkaEmitter publishes events to a broker topic so downstream
// indexers and notification services can follow settlements.
type KafkaEmitter struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaEmitter creates a broker-backed emitter.
func NewKafkaEmitter(brokers []string, topic string, logger *zap.Logger) *KafkaEmitter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaEmitter{writer: writer, logger: logger.Named("events.kafka")}
}

// Emit publishes the event keyed by auction id so per-auction ordering
// survives partitioning. Publish failures are logged, never propagated:
// settlement state is already final when the event exists.
func (e *KafkaEmitter) Emit(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("event marshal failed", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.AuctionID, 10)),
		Value: payload,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		e.logger.Error("event publish failed",
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
