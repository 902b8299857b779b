package bridge

import (
	"encoding/json"
	"fmt"
)

// Notification type discriminators on the client channel.
const (
	NoteConnectResult     = "connect_result"
	NoteConnected         = "mqtt_connected"
	NoteDisconnected      = "mqtt_disconnected"
	NoteError             = "mqtt_error"
	NoteMessage           = "mqtt_message"
	NoteSubscribeResult   = "subscribe_result"
	NotePublishResult     = "publish_result"
	NoteServiceCallResult = "service_call_result"
	NoteSession           = "session"
	NoteCommandError      = "error"
)

// Notification is a message for the client. The set of implementations is
// closed; EncodeNotification handles each of them.
type Notification interface {
	notificationType() string
}

// ConnectResult ends a connect attempt.
type ConnectResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Class   string `json:"class,omitempty"`
}

// Connected reports that the broker accepted the connection.
type Connected struct{}

// Disconnected reports that the session left Connecting or Connected.
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

// BrokerError surfaces a transport failure.
type BrokerError struct {
	Message string `json:"message"`
	Class   string `json:"class,omitempty"`
}

// MessageReceived carries an inbound publication.
type MessageReceived struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	QoS     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// SubscribeResult reports the outcome of one subscribe command. Result is
// 0 on success and the broker's code on refusal; it is absent when the
// request failed before the broker answered.
type SubscribeResult struct {
	Topic  string `json:"topic"`
	QoS    byte   `json:"qos"`
	Result *int   `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PublishResult reports the outcome of one publish.
type PublishResult struct {
	Topic  string `json:"topic"`
	Result *int   `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServiceCallResult returns the correlation data of an issued service call.
type ServiceCallResult struct {
	Tid        string          `json:"tid,omitempty"`
	Bid        string          `json:"bid,omitempty"`
	Method     string          `json:"method,omitempty"`
	Topic      string          `json:"topic,omitempty"`
	ReplyTopic string          `json:"replyTopic,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// SessionInfo greets a newly attached client.
type SessionInfo struct {
	ID string `json:"id"`
}

// CommandError reports a frame the session could not accept.
type CommandError struct {
	Message string `json:"message"`
}

func (ConnectResult) notificationType() string     { return NoteConnectResult }
func (Connected) notificationType() string         { return NoteConnected }
func (Disconnected) notificationType() string      { return NoteDisconnected }
func (BrokerError) notificationType() string       { return NoteError }
func (MessageReceived) notificationType() string   { return NoteMessage }
func (SubscribeResult) notificationType() string   { return NoteSubscribeResult }
func (PublishResult) notificationType() string     { return NotePublishResult }
func (ServiceCallResult) notificationType() string { return NoteServiceCallResult }
func (SessionInfo) notificationType() string       { return NoteSession }
func (CommandError) notificationType() string      { return NoteCommandError }

// NotificationType returns the wire discriminator of n.
func NotificationType(n Notification) string { return n.notificationType() }

// EncodeNotification renders n as a JSON object with a "type" field.
func EncodeNotification(n Notification) ([]byte, error) {
	switch v := n.(type) {
	case ConnectResult:
		return marshalTyped(NoteConnectResult, v)
	case Connected:
		return marshalTyped(NoteConnected, v)
	case Disconnected:
		return marshalTyped(NoteDisconnected, v)
	case BrokerError:
		return marshalTyped(NoteError, v)
	case MessageReceived:
		return marshalTyped(NoteMessage, v)
	case SubscribeResult:
		return marshalTyped(NoteSubscribeResult, v)
	case PublishResult:
		return marshalTyped(NotePublishResult, v)
	case ServiceCallResult:
		return marshalTyped(NoteServiceCallResult, v)
	case SessionInfo:
		return marshalTyped(NoteSession, v)
	case CommandError:
		return marshalTyped(NoteCommandError, v)
	default:
		return nil, fmt.Errorf("bridge: cannot encode notification %T", n)
	}
}

// marshalTyped renders body with "type" as its first field.
func marshalTyped(typ string, body any) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	name, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(fields)+len(name)+9)
	out = append(out, `{"type":`...)
	out = append(out, name...)
	if string(fields) == "{}" {
		return append(out, '}'), nil
	}
	out = append(out, ',')
	return append(out, fields[1:]...), nil
}
