package export

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// StreamRecord is the JSON value of every Kafka message.
type StreamRecord struct {
	ID         string         `json:"id"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Topic      string         `json:"topic"`
	Payload    string         `json:"payload"`
	QoS        byte           `json:"qos"`
	Retain     bool           `json:"retain"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// KafkaSink streams every publication to one topic. Messages are keyed by
// device id so a device's publications stay ordered within a partition;
// publications without a device id are keyed by MQTT topic.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink builds an asynchronous writer. Delivery failures are logged
// from the writer's completion callback.
func NewKafkaSink(cfg config.KafkaConfig, logger *logging.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	log := logger.With("component", "export", "sink", "kafka")

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
		Async:    true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("kafka delivery failed", "messages", len(messages), "error", err)
			}
		},
	}
	log.Info("kafka sink ready",
		"brokers", strings.Join(cfg.Brokers, ","),
		"topic", cfg.Topic,
	)
	return &KafkaSink{writer: writer}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Export(ctx context.Context, pub telemetry.Publication) error {
	msg, err := StreamMessage(pub)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// StreamMessage encodes pub as the Kafka message KafkaSink writes.
func StreamMessage(pub telemetry.Publication) (kafka.Message, error) {
	value, err := json.Marshal(StreamRecord{
		ID:         pub.Record.ID,
		DeviceID:   pub.DeviceID,
		Topic:      pub.Record.Topic,
		Payload:    pub.Record.Payload,
		QoS:        pub.Record.QoS,
		Retain:     pub.Record.Retain,
		ReceivedAt: pub.Record.ReceivedAt,
		Fields:     pub.Fields,
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encoding stream record: %w", err)
	}

	key := pub.DeviceID
	if key == "" {
		key = pub.Record.Topic
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  pub.At,
	}, nil
}
