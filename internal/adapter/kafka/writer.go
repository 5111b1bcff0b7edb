package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/rain-nowcast-monitor/internal/config"
	"github.com/couchcryptid/rain-nowcast-monitor/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	eventKindAlert     = "alert"
	eventKindHeartbeat = "heartbeat"
)

// messageWriter is the subset of *kafkago.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes alert and heartbeat events to a Kafka topic.
// It implements domain.Notifier.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured alert topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	return &Writer{writer: w, logger: logger}
}

// NotifyAlert publishes one alert keyed by location so a location's alerts stay ordered.
func (w *Writer) NotifyAlert(ctx context.Context, event domain.AlertEvent) error {
	msg, err := serializeAlert(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alert %s: %w", event.ID, err)
	}
	w.logger.Debug("alert published", "id", event.ID, "location", event.Location, "severity", event.Severity)
	return nil
}

// NotifyHeartbeat publishes one heartbeat.
func (w *Writer) NotifyHeartbeat(ctx context.Context, event domain.HeartbeatEvent) error {
	msg, err := serializeHeartbeat(event)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish heartbeat %s: %w", event.ID, err)
	}
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeAlert marshals an AlertEvent into a Kafka message.
func serializeAlert(event domain.AlertEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Location),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(eventKindAlert)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "severity", Value: []byte(event.Severity)},
			{Key: "lead_minutes", Value: []byte(strconv.Itoa(event.Slot.LeadMinutes))},
			{Key: "detected_at", Value: []byte(event.DetectedAt.Format(time.RFC3339))},
		},
	}, nil
}

// serializeHeartbeat marshals a HeartbeatEvent into a Kafka message.
func serializeHeartbeat(event domain.HeartbeatEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize heartbeat event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(eventKindHeartbeat),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_kind", Value: []byte(eventKindHeartbeat)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "scheduled", Value: []byte(event.Scheduled)},
		},
	}, nil
}
