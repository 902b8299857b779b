package bridge

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Command
	}{
		{
			name: "connect with profile",
			in:   `{"type":"connect","profileId":"p-1"}`,
			want: ConnectCommand{ProfileID: "p-1"},
		},
		{
			name: "subscribe",
			in:   `{"type":"subscribe","topic":"thing/product/+/osd","qos":1}`,
			want: SubscribeCommand{Topic: "thing/product/+/osd", QoS: 1},
		},
		{
			name: "unsubscribe",
			in:   `{"type":"unsubscribe","topic":"a/b"}`,
			want: UnsubscribeCommand{Topic: "a/b"},
		},
		{
			name: "disconnect",
			in:   `{"type":"disconnect"}`,
			want: DisconnectCommand{},
		},
		{
			name: "restore",
			in:   `{"type":"restore_subscriptions"}`,
			want: RestoreSubscriptionsCommand{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCommand([]byte(tt.in))
			if err != nil {
				t.Fatalf("DecodeCommand() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeCommand() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeCommandConnectConfig(t *testing.T) {
	got, err := DecodeCommand([]byte(`{"type":"connect","config":{"protocol":"ws","host":"10.0.0.5","port":8083,"path":"/mqtt"}}`))
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	c, ok := got.(ConnectCommand)
	if !ok || c.Config == nil {
		t.Fatalf("DecodeCommand() = %#v", got)
	}
	if c.Config.Protocol != "ws" || c.Config.Port != 8083 {
		t.Errorf("config = %+v", c.Config)
	}
}

func TestDecodeCommandPublishAndServiceCall(t *testing.T) {
	got, err := DecodeCommand([]byte(`{"type":"publish","topic":"a/b","payload":{"k":1},"qos":1,"retain":true}`))
	if err != nil {
		t.Fatalf("DecodeCommand(publish) error = %v", err)
	}
	pub := got.(PublishCommand)
	if string(pub.PayloadBytes()) != `{"k":1}` || !pub.Retain || pub.QoS != 1 {
		t.Errorf("publish = %+v", pub)
	}

	got, err = DecodeCommand([]byte(`{"type":"service_call","target":"SN1","method":"live_start","data":{"url":"rtmp://x"},"autoSubscribeReply":false}`))
	if err != nil {
		t.Fatalf("DecodeCommand(service_call) error = %v", err)
	}
	sc := got.(ServiceCallCommand)
	if sc.Target != "SN1" || sc.Method != "live_start" || sc.AutoSubscribe() {
		t.Errorf("service_call = %+v", sc)
	}
	if !(ServiceCallCommand{}).AutoSubscribe() {
		t.Error("AutoSubscribe() should default to true")
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{`, ErrInvalidCommand},
		{"missing type", `{"topic":"a"}`, ErrInvalidCommand},
		{"unknown type", `{"type":"reboot"}`, ErrUnknownCommand},
		{"subscribe without topic", `{"type":"subscribe"}`, ErrInvalidCommand},
		{"unsubscribe without topic", `{"type":"unsubscribe"}`, ErrInvalidCommand},
		{"publish without topic", `{"type":"publish","payload":"x"}`, ErrInvalidCommand},
		{"service call without method", `{"type":"service_call","target":"SN1"}`, ErrInvalidCommand},
		{"bad qos type", `{"type":"subscribe","topic":"a","qos":"high"}`, ErrInvalidCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCommand([]byte(tt.in)); !errors.Is(err, tt.want) {
				t.Errorf("DecodeCommand() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPayloadBytes(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"hello"`, "hello"},
		{`"{\"a\":1}"`, `{"a":1}`},
		{`{"a":1}`, `{"a":1}`},
		{`42`, `42`},
		{`null`, ``},
		{``, ``},
		{`  [1,2] `, `[1,2]`},
	}
	for _, tt := range tests {
		if got := string(PayloadBytes(json.RawMessage(tt.raw))); got != tt.want {
			t.Errorf("PayloadBytes(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestEncodeNotification(t *testing.T) {
	zero := 0
	tests := []struct {
		name string
		n    Notification
		want string
	}{
		{"connected", Connected{}, `{"type":"mqtt_connected"}`},
		{"session", SessionInfo{ID: "s1"}, `{"type":"session","id":"s1"}`},
		{"connect failed", ConnectResult{Error: "refused", Class: "connection_refused"},
			`{"type":"connect_result","success":false,"error":"refused","class":"connection_refused"}`},
		{"subscribe ok", SubscribeResult{Topic: "a", QoS: 1, Result: &zero},
			`{"type":"subscribe_result","topic":"a","qos":1,"result":0}`},
		{"message", MessageReceived{Topic: "a", Payload: "{}", QoS: 0},
			`{"type":"mqtt_message","topic":"a","payload":"{}","qos":0,"retain":false}`},
		{"broker error", BrokerError{Message: "boom"}, `{"type":"mqtt_error","message":"boom"}`},
		{"command error", CommandError{Message: "bad"}, `{"type":"error","message":"bad"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeNotification(tt.n)
			if err != nil {
				t.Fatalf("EncodeNotification() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeNotification() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStateJSON(t *testing.T) {
	got, err := json.Marshal(map[string]State{"s": StateConnecting})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(got) != `{"s":"connecting"}` {
		t.Errorf("Marshal() = %s", got)
	}
}
