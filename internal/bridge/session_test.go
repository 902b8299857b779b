package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

const osdTopic = "thing/product/SN001/osd"

func testConfig() *mqtt.ConnectionConfig {
	return &mqtt.ConnectionConfig{Protocol: "tcp", Host: "broker.test", Port: 1883, ClientID: "web_client_test"}
}

type harness struct {
	session *Session
	dialer  *fakeDialer
	notes   *recorder
}

func newHarness(t *testing.T, autoConnect bool, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{dialer: &fakeDialer{autoConnect: autoConnect}, notes: &recorder{}}
	opts := Options{
		Dial:             h.dialer.dial,
		Notify:           h.notes.notify,
		SubscribeTimeout: time.Second,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h.session = NewSession("test-session", opts)
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) connect(t *testing.T) *fakeLink {
	t.Helper()
	if err := h.session.Connect(context.Background(), ConnectCommand{Config: testConfig()}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return h.dialer.last(t)
}

// subscribeAsync starts a blocking Subscribe and returns its result channel.
func (h *harness) subscribeAsync(topic string, qos byte) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- h.session.Subscribe(context.Background(), topic, qos) }()
	return ch
}

func receive(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("operation did not complete")
		return nil
	}
}

func TestSessionConnectSubscribeProject(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	if got := h.session.State(); got != StateConnected {
		t.Fatalf("State() = %v, want connected", got)
	}
	if res := h.notes.wait(t, NoteConnectResult).(ConnectResult); !res.Success {
		t.Errorf("connect_result = %+v", res)
	}
	h.notes.wait(t, NoteConnected)

	done := h.subscribeAsync(osdTopic, 1)
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })
	link.confirm(osdTopic, 1)
	if err := receive(t, done); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	subs, err := h.session.Subscriptions(context.Background())
	if err != nil {
		t.Fatalf("Subscriptions() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Topic != osdTopic || subs[0].QoS != 1 {
		t.Errorf("Subscriptions() = %+v", subs)
	}

	link.deliver(osdTopic, `{"battery":{"capacity_percent":87},"height":120.5}`)
	msg := h.notes.wait(t, NoteMessage).(MessageReceived)
	if msg.Topic != osdTopic {
		t.Errorf("message topic = %q", msg.Topic)
	}

	var state telemetry.DeviceState
	waitFor(t, "device projection", func() bool {
		s, ok, err := h.session.Device(context.Background(), "SN001")
		state = s
		return err == nil && ok
	})
	if state.Topic != osdTopic {
		t.Errorf("device topic = %q", state.Topic)
	}
	if _, ok := state.Fields["battery"]; !ok {
		t.Errorf("device fields = %v, want battery", state.Fields)
	}

	history, err := h.session.History(context.Background(), 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("History() = %v, %v", history, err)
	}
}

func TestSessionDisconnectCancelsPending(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	first := h.subscribeAsync("thing/product/A/osd", 0)
	second := h.subscribeAsync("thing/product/B/osd", 0)
	waitFor(t, "two pending subscriptions", func() bool { return link.subscribeCount() == 2 })

	if err := h.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	for _, ch := range []<-chan error{first, second} {
		if err := receive(t, ch); !errors.Is(err, ErrCanceled) {
			t.Errorf("pending Subscribe() error = %v, want ErrCanceled", err)
		}
	}

	snap, err := h.session.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.State != StateDisconnected || len(snap.Subscriptions) != 0 || len(snap.PendingSubscriptions) != 0 {
		t.Errorf("Snapshot() after disconnect = %+v", snap)
	}
	waitFor(t, "link close", link.isClosed)
	h.notes.wait(t, NoteDisconnected)

	// A second disconnect is a no-op.
	if err := h.session.Disconnect(context.Background()); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
	if n := len(h.notes.ofType(NoteDisconnected)); n != 1 {
		t.Errorf("mqtt_disconnected count = %d, want 1", n)
	}
}

func TestSessionSubscribeTimeout(t *testing.T) {
	h := newHarness(t, true, func(o *Options) { o.SubscribeTimeout = 30 * time.Millisecond })
	h.connect(t)

	err := h.session.Subscribe(context.Background(), osdTopic, 0)
	if !errors.Is(err, ErrSubscriptionTimeout) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscriptionTimeout", err)
	}
	subs, _ := h.session.Subscriptions(context.Background())
	if len(subs) != 0 {
		t.Errorf("Subscriptions() after timeout = %+v, want none", subs)
	}
}

func TestSessionSubscribeRefused(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	done := h.subscribeAsync("$SYS/#", 0)
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })
	link.refuse("$SYS/#", 128)

	err := receive(t, done)
	if !errors.Is(err, ErrSubscriptionFailed) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscriptionFailed", err)
	}
	var se *SubscribeError
	if !errors.As(err, &se) || se.Code == nil || *se.Code != 128 {
		t.Errorf("SubscribeError = %+v", se)
	}
}

func TestSessionConfirmSettlesAllForTopic(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	a := h.subscribeAsync(osdTopic, 0)
	b := h.subscribeAsync(osdTopic, 0)
	waitFor(t, "two requests", func() bool { return link.subscribeCount() == 2 })
	link.confirm(osdTopic, 0)

	if err := receive(t, a); err != nil {
		t.Errorf("first Subscribe() error = %v", err)
	}
	if err := receive(t, b); err != nil {
		t.Errorf("second Subscribe() error = %v", err)
	}
}

func TestSessionNotConnected(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	if err := h.session.Subscribe(ctx, osdTopic, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v", err)
	}
	if err := h.session.Publish(ctx, osdTopic, []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v", err)
	}
	if err := h.session.Unsubscribe(ctx, osdTopic); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if _, err := h.session.RestoreSubscriptions(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RestoreSubscriptions() error = %v", err)
	}
	if h.dialer.count() != 0 {
		t.Error("no link should have been dialled")
	}
}

func TestSessionInvalidSubscribe(t *testing.T) {
	h := newHarness(t, true)
	h.connect(t)

	if err := h.session.Subscribe(context.Background(), "a/#/b", 0); !errors.Is(err, mqtt.ErrInvalidTopic) {
		t.Errorf("Subscribe(bad filter) error = %v", err)
	}
	if err := h.session.Subscribe(context.Background(), osdTopic, 3); !errors.Is(err, mqtt.ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) error = %v", err)
	}
}

func TestSessionConnectIdempotent(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.session.Connect(ctx, ConnectCommand{Config: testConfig()}) }()
	link := h.dialer.last(t)
	waitFor(t, "connecting", func() bool { return h.session.State() == StateConnecting })

	second := make(chan error, 1)
	go func() { second <- h.session.Connect(ctx, ConnectCommand{Config: testConfig()}) }()
	// Give the second call time to join the attempt in progress.
	time.Sleep(20 * time.Millisecond)

	link.emit(mqtt.Event{Kind: mqtt.EventConnected})
	if err := receive(t, first); err != nil {
		t.Errorf("first Connect() error = %v", err)
	}
	if err := receive(t, second); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}

	if err := h.session.Connect(ctx, ConnectCommand{Config: testConfig()}); err != nil {
		t.Errorf("Connect() while connected error = %v", err)
	}
	if n := h.dialer.count(); n != 1 {
		t.Errorf("links dialled = %d, want 1", n)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	h := newHarness(t, false)

	done := make(chan error, 1)
	go func() { done <- h.session.Connect(context.Background(), ConnectCommand{Config: testConfig()}) }()
	link := h.dialer.last(t)

	cause := &mqtt.TransportError{
		Class: mqtt.ClassRefused,
		Host:  "broker.test",
		Port:  1883,
		Err:   errors.New("connect: connection refused"),
	}
	link.emit(mqtt.Event{Kind: mqtt.EventConnectFailed, Err: cause})

	err := receive(t, done)
	if !errors.Is(err, mqtt.ErrTransport) {
		t.Fatalf("Connect() error = %v, want transport error", err)
	}
	if h.session.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", h.session.State())
	}

	brokerErr := h.notes.wait(t, NoteError).(BrokerError)
	if brokerErr.Class != string(mqtt.ClassRefused) {
		t.Errorf("mqtt_error class = %q", brokerErr.Class)
	}
	if res := h.notes.wait(t, NoteConnectResult).(ConnectResult); res.Success || res.Class == "" {
		t.Errorf("connect_result = %+v", res)
	}
}

func TestSessionConnectWithoutConfig(t *testing.T) {
	h := newHarness(t, true)

	err := h.session.Connect(context.Background(), ConnectCommand{})
	if !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Connect() error = %v, want ErrInvalidCommand", err)
	}
	if res := h.notes.wait(t, NoteConnectResult).(ConnectResult); res.Success {
		t.Errorf("connect_result = %+v", res)
	}

	bad := &mqtt.ConnectionConfig{Protocol: "gopher", Host: "h", Port: 1}
	if err := h.session.Connect(context.Background(), ConnectCommand{Config: bad}); !errors.Is(err, mqtt.ErrInvalidConfig) {
		t.Errorf("Connect(bad protocol) error = %v", err)
	}
	if h.dialer.count() != 0 {
		t.Error("invalid configs must not dial")
	}
}

func TestSessionConnectionLostKeepsPrevious(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	done := h.subscribeAsync(osdTopic, 1)
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })
	link.confirm(osdTopic, 1)
	if err := receive(t, done); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	link.deliver(osdTopic, `{"height":10}`)
	h.notes.wait(t, NoteMessage)

	link.emit(mqtt.Event{Kind: mqtt.EventConnectionLost, Err: &mqtt.TransportError{
		Class: mqtt.ClassUnknown, Host: "broker.test", Port: 1883, Err: errors.New("EOF"),
	}})
	h.notes.wait(t, NoteDisconnected)

	snap, err := h.session.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snap.State != StateDisconnected || len(snap.Subscriptions) != 0 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if len(snap.PreviousSubscriptions) != 1 || snap.PreviousSubscriptions[0].Topic != osdTopic {
		t.Errorf("PreviousSubscriptions = %+v", snap.PreviousSubscriptions)
	}
	if snap.HistoryCount != 1 || snap.DeviceCount != 1 {
		t.Errorf("history/devices lost on disconnect: %d/%d", snap.HistoryCount, snap.DeviceCount)
	}

	relink := h.connect(t)
	if relink == link {
		t.Fatal("reconnect should dial a new link")
	}
	topics, err := h.session.RestoreSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("RestoreSubscriptions() error = %v", err)
	}
	if len(topics) != 1 || topics[0] != osdTopic {
		t.Errorf("restored = %v", topics)
	}
	waitFor(t, "restored subscribe", func() bool { return relink.subscribeCount() == 1 })
	relink.confirm(osdTopic, 1)

	res := h.notes.wait(t, NoteSubscribeResult).(SubscribeResult)
	if res.Result == nil || *res.Result != 0 || res.Topic != osdTopic {
		t.Errorf("subscribe_result = %+v", res)
	}
}

func TestSessionIgnoresStaleLinkEvents(t *testing.T) {
	h := newHarness(t, true)
	old := h.connect(t)
	if err := h.session.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	fresh := h.connect(t)

	old.deliver("thing/product/OLD/osd", `{"a":1}`)
	fresh.deliver("thing/product/NEW/osd", `{"a":1}`)

	waitFor(t, "fresh message", func() bool {
		history, err := h.session.History(context.Background(), 0)
		return err == nil && len(history) > 0
	})
	history, _ := h.session.History(context.Background(), 0)
	if len(history) != 1 || history[0].Topic != "thing/product/NEW/osd" {
		t.Errorf("History() = %+v, want only the fresh link's message", history)
	}
}

func TestSessionPublishAndUnsubscribe(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)
	ctx := context.Background()

	if err := h.session.Publish(ctx, "thing/product/SN001/services", []byte(`{"method":"live_start"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	msgs := link.publishedMessages()
	if len(msgs) != 1 || msgs[0].QoS != 1 {
		t.Fatalf("published = %+v", msgs)
	}
	if res := h.notes.wait(t, NotePublishResult).(PublishResult); res.Result == nil || *res.Result != 0 {
		t.Errorf("publish_result = %+v", res)
	}

	done := h.subscribeAsync(osdTopic, 0)
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })
	link.confirm(osdTopic, 0)
	if err := receive(t, done); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := h.session.Unsubscribe(ctx, osdTopic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if subs, _ := h.session.Subscriptions(ctx); len(subs) != 0 {
		t.Errorf("Subscriptions() after unsubscribe = %+v", subs)
	}
}

func TestSessionDispatch(t *testing.T) {
	h := newHarness(t, true)

	h.session.Dispatch(ConnectCommand{Config: testConfig()})
	h.notes.wait(t, NoteConnected)
	link := h.dialer.last(t)

	h.session.Dispatch(SubscribeCommand{Topic: osdTopic, QoS: 1})
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })
	link.confirm(osdTopic, 1)
	res := h.notes.wait(t, NoteSubscribeResult).(SubscribeResult)
	if res.Result == nil || *res.Result != 0 || res.QoS != 1 {
		t.Errorf("subscribe_result = %+v", res)
	}

	h.session.Dispatch(PublishCommand{Topic: "a/b", Payload: []byte(`"hello"`)})
	waitFor(t, "publish", func() bool { return len(link.publishedMessages()) == 1 })
	if got := string(link.publishedMessages()[0].Payload); got != "hello" {
		t.Errorf("payload = %q, want hello", got)
	}

	h.session.Dispatch(ServiceCallCommand{Target: "SN001", Method: "live_start"})
	sc := h.notes.wait(t, NoteServiceCallResult).(ServiceCallResult)
	if sc.Error != ErrServiceCallsDisabled.Error() {
		t.Errorf("service_call_result = %+v", sc)
	}

	h.session.Dispatch(DisconnectCommand{})
	h.notes.wait(t, NoteDisconnected)

	h.session.Dispatch(SubscribeCommand{Topic: osdTopic})
	waitFor(t, "failed subscribe_result", func() bool {
		for _, n := range h.notes.ofType(NoteSubscribeResult) {
			if n.(SubscribeResult).Error == ErrNotConnected.Error() {
				return true
			}
		}
		return false
	})
}

func TestSessionServiceCaller(t *testing.T) {
	h := newHarness(t, true, func(o *Options) {
		o.ServiceCall = func(_ context.Context, s *Session, cmd ServiceCallCommand) (ServiceCallResult, error) {
			if cmd.Method == "boom" {
				return ServiceCallResult{}, fmt.Errorf("failed on %s", s.ID())
			}
			return ServiceCallResult{Tid: "tid_1", Bid: "bid_1", Method: cmd.Method}, nil
		}
	})

	h.session.Dispatch(ServiceCallCommand{Target: "SN001", Method: "live_stop"})
	res := h.notes.wait(t, NoteServiceCallResult).(ServiceCallResult)
	if res.Tid != "tid_1" || res.Error != "" {
		t.Errorf("service_call_result = %+v", res)
	}

	h.session.Dispatch(ServiceCallCommand{Target: "SN001", Method: "boom"})
	waitFor(t, "failed service call", func() bool { return len(h.notes.ofType(NoteServiceCallResult)) == 2 })
	failed := h.notes.ofType(NoteServiceCallResult)[1].(ServiceCallResult)
	if failed.Method != "boom" || failed.Error == "" {
		t.Errorf("failed service_call_result = %+v", failed)
	}
}

func TestSessionOnConnectedHook(t *testing.T) {
	called := make(chan string, 1)
	h := newHarness(t, true, func(o *Options) {
		o.OnConnected = func(s *Session) { called <- s.ID() }
	})
	h.connect(t)

	select {
	case id := <-called:
		if id != "test-session" {
			t.Errorf("hook session id = %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnected not called")
	}
}

func TestSessionClose(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)

	pending := h.subscribeAsync(osdTopic, 0)
	waitFor(t, "subscribe request", func() bool { return link.subscribeCount() == 1 })

	h.session.Close()
	if err := receive(t, pending); !errors.Is(err, ErrCanceled) {
		t.Errorf("pending Subscribe() error = %v, want ErrCanceled", err)
	}
	if err := h.session.Publish(context.Background(), "a", nil, 0, false); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Publish() after Close error = %v, want ErrSessionClosed", err)
	}
	waitFor(t, "link close", link.isClosed)
	// Close is idempotent.
	h.session.Close()
}

func TestSessionClearViews(t *testing.T) {
	h := newHarness(t, true)
	link := h.connect(t)
	ctx := context.Background()

	link.deliver(osdTopic, `{"x":1}`)
	waitFor(t, "history", func() bool {
		snap, err := h.session.Snapshot(ctx)
		return err == nil && snap.HistoryCount == 1 && snap.DeviceCount == 1
	})

	if err := h.session.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}
	if err := h.session.ClearDevices(ctx); err != nil {
		t.Fatalf("ClearDevices() error = %v", err)
	}
	devices, err := h.session.Devices(ctx)
	if err != nil || len(devices) != 0 {
		t.Errorf("Devices() = %v, %v", devices, err)
	}
	snap, _ := h.session.Snapshot(ctx)
	if snap.HistoryCount != 0 || snap.MessagesReceived != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}
