package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (1MB).
// This prevents resource exhaustion and aligns with typical broker limits.
const maxPayloadSize = 1 << 20 // 1MB

// Publish sends payload to topic. Input errors are returned immediately;
// otherwise an EventPublished follows once paho completes the flow for the
// requested QoS.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
//
// Example:
//
//	topic := mqtt.Topics{Namespace: "thing/product"}.Services("SN123")
//	err := link.Publish(topic, payload, 1, false)
func (l *Link) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := ValidateTopicName(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if l.closed.Load() {
		return ErrNotConnected
	}

	token := l.client.Publish(topic, qos, retained, payload)
	l.settle(token, func(err error) Event {
		ev := Event{Kind: EventPublished, Topic: topic, QoS: qos}
		if err != nil {
			ev.Err = fmt.Errorf("publish %q: %w", topic, err)
		}
		return ev
	})
	return nil
}
