package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// Command type discriminators on the client channel.
const (
	CmdConnect              = "connect"
	CmdSubscribe            = "subscribe"
	CmdUnsubscribe          = "unsubscribe"
	CmdPublish              = "publish"
	CmdDisconnect           = "disconnect"
	CmdServiceCall          = "service_call"
	CmdRestoreSubscriptions = "restore_subscriptions"
)

// Command is a client request. The set of implementations is closed.
type Command interface {
	commandType() string
}

// ConnectCommand opens the broker connection. An explicit Config wins over
// ProfileID; with neither, the default profile or the fallback is used.
type ConnectCommand struct {
	Config    *mqtt.ConnectionConfig `json:"config,omitempty"`
	ProfileID string                 `json:"profileId,omitempty"`
}

// SubscribeCommand requests a subscription.
type SubscribeCommand struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// UnsubscribeCommand drops a subscription.
type UnsubscribeCommand struct {
	Topic string `json:"topic"`
}

// PublishCommand sends a message. A JSON string payload is published as its
// text; any other JSON value is published as its encoding.
type PublishCommand struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	QoS     byte            `json:"qos"`
	Retain  bool            `json:"retain"`
}

// DisconnectCommand closes the broker connection.
type DisconnectCommand struct{}

// ServiceCallCommand issues a request on <namespace>/<target>/services.
type ServiceCallCommand struct {
	Target             string          `json:"target"`
	Method             string          `json:"method"`
	Data               json.RawMessage `json:"data,omitempty"`
	QoS                byte            `json:"qos"`
	Retain             bool            `json:"retain"`
	AutoSubscribeReply *bool           `json:"autoSubscribeReply,omitempty"`
}

// RestoreSubscriptionsCommand re-issues the subscriptions dropped by the last disconnect.
type RestoreSubscriptionsCommand struct{}

func (ConnectCommand) commandType() string              { return CmdConnect }
func (SubscribeCommand) commandType() string            { return CmdSubscribe }
func (UnsubscribeCommand) commandType() string          { return CmdUnsubscribe }
func (PublishCommand) commandType() string              { return CmdPublish }
func (DisconnectCommand) commandType() string           { return CmdDisconnect }
func (ServiceCallCommand) commandType() string          { return CmdServiceCall }
func (RestoreSubscriptionsCommand) commandType() string { return CmdRestoreSubscriptions }

// AutoSubscribe reports whether the reply topic should be subscribed, true when unset.
func (c ServiceCallCommand) AutoSubscribe() bool {
	return c.AutoSubscribeReply == nil || *c.AutoSubscribeReply
}

// PayloadBytes returns the bytes to publish for the command's payload.
func (c PublishCommand) PayloadBytes() []byte {
	return PayloadBytes(c.Payload)
}

// PayloadBytes unwraps a JSON string to its text and passes any other JSON
// value through as encoded. A missing or null payload publishes nothing.
func PayloadBytes(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []byte{}
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return []byte(s)
		}
	}
	return trimmed
}

// DecodeCommand parses one client frame.
func DecodeCommand(data []byte) (Command, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	switch envelope.Type {
	case CmdConnect:
		var c ConnectCommand
		return decodeInto(data, &c)
	case CmdSubscribe:
		var c SubscribeCommand
		if _, err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		if c.Topic == "" {
			return nil, fmt.Errorf("%w: subscribe requires topic", ErrInvalidCommand)
		}
		return c, nil
	case CmdUnsubscribe:
		var c UnsubscribeCommand
		if _, err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		if c.Topic == "" {
			return nil, fmt.Errorf("%w: unsubscribe requires topic", ErrInvalidCommand)
		}
		return c, nil
	case CmdPublish:
		var c PublishCommand
		if _, err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		if c.Topic == "" {
			return nil, fmt.Errorf("%w: publish requires topic", ErrInvalidCommand)
		}
		return c, nil
	case CmdDisconnect:
		return DisconnectCommand{}, nil
	case CmdServiceCall:
		var c ServiceCallCommand
		if _, err := decodeInto(data, &c); err != nil {
			return nil, err
		}
		if c.Target == "" || c.Method == "" {
			return nil, fmt.Errorf("%w: service_call requires target and method", ErrInvalidCommand)
		}
		return c, nil
	case CmdRestoreSubscriptions:
		return RestoreSubscriptionsCommand{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrInvalidCommand)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, envelope.Type)
	}
}

func decodeInto[T Command](data []byte, c *T) (Command, error) {
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return *c, nil
}
