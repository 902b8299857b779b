package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe asks the broker for topic at the given QoS.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "thing/product/+/osd" matches every device's OSD topic
//   - # (multi-level): "thing/product/#" matches the whole namespace
//
// Input errors are returned immediately. Otherwise an EventSubscribed follows
// carrying either Err or the broker's per-topic result code.
func (l *Link) Subscribe(topic string, qos byte) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if l.closed.Load() {
		return ErrNotConnected
	}

	// A nil callback routes deliveries to the default publish handler.
	token := l.client.Subscribe(topic, qos, nil)
	l.settle(token, func(err error) Event {
		ev := Event{Kind: EventSubscribed, Topic: topic, QoS: qos}
		if err != nil {
			ev.Err = fmt.Errorf("subscribe %q: %w", topic, err)
			return ev
		}
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			if granted, found := st.Result()[topic]; found {
				code := 0
				if granted == subscribeFailure {
					code = subscribeFailure
				} else {
					ev.QoS = granted
				}
				ev.Result = &code
			}
		}
		return ev
	})
	return nil
}

// Unsubscribe removes a subscription. The broker's acknowledgement is not
// reported: unsubscribing is fire-and-forget.
func (l *Link) Unsubscribe(topic string) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if l.closed.Load() {
		return ErrNotConnected
	}

	token := l.client.Unsubscribe(topic)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			if logger := l.getLogger(); logger != nil {
				logger.Warn("MQTT unsubscribe failed", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}
