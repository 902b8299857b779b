package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// fakeLink records what a session asks of it. Tests play the broker by
// calling the emit methods.
type fakeLink struct {
	cfg         mqtt.ConnectionConfig
	emitFn      func(mqtt.Event)
	autoConnect bool

	mu        sync.Mutex
	connects  int
	subscribe []string
	unsubs    []string
	published []mqtt.Message
	closed    bool
}

func (l *fakeLink) Connect() {
	l.mu.Lock()
	l.connects++
	l.mu.Unlock()
	if l.autoConnect {
		l.emit(mqtt.Event{Kind: mqtt.EventConnected})
	}
}

func (l *fakeLink) Subscribe(topic string, _ byte) error {
	if err := mqtt.ValidateFilter(topic); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscribe = append(l.subscribe, topic)
	return nil
}

func (l *fakeLink) Unsubscribe(topic string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.unsubs = append(l.unsubs, topic)
	return nil
}

func (l *fakeLink) Publish(topic string, payload []byte, qos byte, retain bool) error {
	l.mu.Lock()
	l.published = append(l.published, mqtt.Message{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	l.mu.Unlock()
	l.emit(mqtt.Event{Kind: mqtt.EventPublished, Topic: topic, QoS: qos})
	return nil
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *fakeLink) emit(ev mqtt.Event) { l.emitFn(ev) }

func (l *fakeLink) confirm(topic string, granted byte) {
	l.emit(mqtt.Event{Kind: mqtt.EventSubscribed, Topic: topic, QoS: granted})
}

func (l *fakeLink) refuse(topic string, code int) {
	l.emit(mqtt.Event{Kind: mqtt.EventSubscribed, Topic: topic, QoS: 0x80, Result: &code})
}

func (l *fakeLink) deliver(topic, payload string) {
	l.emit(mqtt.Event{Kind: mqtt.EventMessage, Message: mqtt.Message{Topic: topic, Payload: []byte(payload)}})
}

func (l *fakeLink) subscribeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subscribe)
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *fakeLink) publishedMessages() []mqtt.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]mqtt.Message(nil), l.published...)
}

// fakeDialer hands out fakeLinks and remembers them in order.
type fakeDialer struct {
	autoConnect bool

	mu    sync.Mutex
	links []*fakeLink
}

func (d *fakeDialer) dial(cfg mqtt.ConnectionConfig, emit func(mqtt.Event)) Link {
	l := &fakeLink{cfg: cfg, emitFn: emit, autoConnect: d.autoConnect}
	d.mu.Lock()
	d.links = append(d.links, l)
	d.mu.Unlock()
	return l
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.links)
}

func (d *fakeDialer) last(t *testing.T) *fakeLink {
	t.Helper()
	waitFor(t, "a dialled link", func() bool { return d.count() > 0 })
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[len(d.links)-1]
}

// recorder collects notifications.
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notes...)
}

func (r *recorder) ofType(typ string) []Notification {
	var out []Notification
	for _, n := range r.all() {
		if NotificationType(n) == typ {
			out = append(out, n)
		}
	}
	return out
}

// wait blocks until a notification of typ has been recorded and returns the first.
func (r *recorder) wait(t *testing.T, typ string) Notification {
	t.Helper()
	var found Notification
	waitFor(t, typ+" notification", func() bool {
		if notes := r.ofType(typ); len(notes) > 0 {
			found = notes[0]
			return true
		}
		return false
	})
	return found
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
