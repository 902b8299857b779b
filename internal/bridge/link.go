package bridge

import (
	"sync"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// Link is the broker connection a session drives. *mqtt.Link implements it.
type Link interface {
	Connect()
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retain bool) error
	Close()
}

// Dialer builds a Link for cfg that reports through emit.
type Dialer func(cfg mqtt.ConnectionConfig, emit func(mqtt.Event)) Link

// PahoDialer returns a Dialer producing paho-backed links.
func PahoDialer(logger *logging.Logger) Dialer {
	return func(cfg mqtt.ConnectionConfig, emit func(mqtt.Event)) Link {
		l := mqtt.NewLink(cfg, emit)
		if logger != nil {
			l.SetLogger(logger)
		}
		return l
	}
}

// linkEvent tags an event with the link generation that produced it.
type linkEvent struct {
	gen uint64
	ev  mqtt.Event
}

// eventQueue is an unbounded mailbox for link events. Pushing never blocks,
// so paho's delivery goroutines cannot stall behind the session loop.
type eventQueue struct {
	mu    sync.Mutex
	items []linkEvent
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e linkEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []linkEvent {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	return items
}
