package mqtt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// EventKind discriminates Link events.
type EventKind int

// Link event kinds.
const (
	EventConnected EventKind = iota + 1
	EventConnectFailed
	EventConnectionLost
	EventMessage
	EventSubscribed
	EventPublished
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventConnectionLost:
		return "connection_lost"
	case EventMessage:
		return "message"
	case EventSubscribed:
		return "subscribed"
	case EventPublished:
		return "published"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Message is an inbound publication.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Event is emitted by a Link for every lifecycle change, inbound message and
// acknowledgement. Err on connect and connection-lost events is a *TransportError.
type Event struct {
	Kind    EventKind
	Err     error
	Message Message

	// Topic and QoS identify the operation acknowledged by EventSubscribed
	// and EventPublished.
	Topic string
	QoS   byte

	// Result is the broker's per-topic SUBACK code, nil when not reported.
	Result *int
}

// subscribeFailure is the SUBACK return code for a refused filter.
const subscribeFailure = 0x80

// Link owns a single broker connection. Every operation returns as soon as
// the request is handed to paho; outcomes arrive through the emit callback.
//
// A Link never reconnects. Once Close has been called, or the connection has
// been lost, it must be discarded.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - emit is called from paho goroutines and must not block for long.
type Link struct {
	client pahomqtt.Client
	cfg    ConnectionConfig
	emit   func(Event)

	logger   Logger
	loggerMu sync.RWMutex

	connectOnce sync.Once
	closed      atomic.Bool
}

// NewLink prepares a link for cfg. No network activity happens until Connect.
func NewLink(cfg ConnectionConfig, emit func(Event)) *Link {
	l := &Link{
		cfg:  cfg,
		emit: emit,
	}

	opts := buildClientOptions(cfg)
	opts.SetDefaultPublishHandler(l.wrapHandler())
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if l.closed.Load() {
			return
		}
		l.emit(Event{Kind: EventConnectionLost, Err: ClassifyError(err, l.cfg)})
	})

	l.client = pahomqtt.NewClient(opts)
	return l
}

// Config returns the configuration the link was built with.
func (l *Link) Config() ConnectionConfig { return l.cfg }

// Connect starts the handshake. Exactly one of EventConnected or
// EventConnectFailed follows, unless the link is closed first.
// Calling Connect more than once has no effect.
func (l *Link) Connect() {
	l.connectOnce.Do(func() {
		token := l.client.Connect()
		go l.awaitConnect(token)
	})
}

func (l *Link) awaitConnect(token pahomqtt.Token) {
	// paho enforces the connect timeout itself; the extra margin only
	// guards against a token that never completes.
	deadline := l.cfg.ConnectTimeout() + time.Second
	var err error
	if !token.WaitTimeout(deadline) {
		err = fmt.Errorf("%w: connect after %v", ErrTimeout, l.cfg.ConnectTimeout())
	} else {
		err = token.Error()
	}

	if l.closed.Load() {
		// Closed mid-handshake: Close saw no open connection to drop.
		if err == nil {
			l.client.Disconnect(0)
		}
		return
	}
	if err != nil {
		l.emit(Event{Kind: EventConnectFailed, Err: ClassifyError(err, l.cfg)})
		return
	}
	l.emit(Event{Kind: EventConnected})
}

// IsConnected reports whether paho currently holds an open connection.
func (l *Link) IsConnected() bool {
	return !l.closed.Load() && l.client.IsConnected()
}

// Close disconnects from the broker. No further events are emitted.
// It blocks for at most the disconnect quiesce period.
func (l *Link) Close() {
	if l.closed.Swap(true) {
		return
	}
	if l.client.IsConnectionOpen() {
		l.client.Disconnect(defaultDisconnectQuiesce)
	}
}

// SetLogger sets a logger for handler panic logging.
func (l *Link) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

func (l *Link) getLogger() Logger {
	l.loggerMu.RLock()
	defer l.loggerMu.RUnlock()
	return l.logger
}

// wrapHandler turns paho deliveries into EventMessage with panic recovery.
func (l *Link) wrapHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := l.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if l.closed.Load() {
			return
		}

		payload := msg.Payload()
		copied := make([]byte, len(payload))
		copy(copied, payload)

		l.emit(Event{
			Kind: EventMessage,
			Message: Message{
				Topic:   msg.Topic(),
				Payload: copied,
				QoS:     msg.Qos(),
				Retain:  msg.Retained(),
			},
		})
	}
}

// settle waits for token in the background and emits the acknowledgement
// built by ack.
func (l *Link) settle(token pahomqtt.Token, ack func(err error) Event) {
	go func() {
		token.Wait()
		if l.closed.Load() {
			return
		}
		l.emit(ack(token.Error()))
	}()
}
