package mqtt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultNamespace is the topic prefix used by the drone fleet cloud API.
const DefaultNamespace = "thing/product"

// maxTopicLength is the MQTT limit on topic length in bytes.
const maxTopicLength = 65535

// Topics provides builders for fleet topics of the form
// <namespace>/<deviceId>/<suffix>.
//
//	topics := mqtt.Topics{Namespace: "thing/product"}
//	topics.Services("1581F5BKD22")      // thing/product/1581F5BKD22/services
//	topics.ServicesReply("1581F5BKD22") // thing/product/1581F5BKD22/services_reply
//	topics.LiveStatus("1581F5BKD22")    // thing/product/1581F5BKD22/live_status
type Topics struct {
	Namespace string
}

func (t Topics) ns() string {
	if t.Namespace == "" {
		return DefaultNamespace
	}
	return strings.TrimSuffix(t.Namespace, "/")
}

func (t Topics) device(id, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", t.ns(), id, suffix)
}

// Services returns the request topic for service calls to a device.
func (t Topics) Services(id string) string { return t.device(id, "services") }

// ServicesReply returns the topic devices answer service calls on.
func (t Topics) ServicesReply(id string) string { return t.device(id, "services_reply") }

// LiveStatus returns the live-stream status telemetry topic.
func (t Topics) LiveStatus(id string) string { return t.device(id, "live_status") }

// ValidateFilter checks a subscription filter against MQTT topic syntax:
// "#" only as the final level on its own, "+" occupying a whole level.
func ValidateFilter(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: '#' must be the last level on its own in %q", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: '+' must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// ValidateTopicName checks a publish topic: no wildcards allowed.
func ValidateTopicName(topic string) error {
	if err := validateCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in %q", ErrInvalidTopic, topic)
	}
	return nil
}

func validateCommon(topic string) error {
	switch {
	case topic == "":
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	case len(topic) > maxTopicLength:
		return fmt.Errorf("%w: topic longer than %d bytes", ErrInvalidTopic, maxTopicLength)
	case !utf8.ValidString(topic), strings.ContainsRune(topic, 0):
		return fmt.Errorf("%w: topic must be valid UTF-8 without NUL", ErrInvalidTopic)
	}
	return nil
}
