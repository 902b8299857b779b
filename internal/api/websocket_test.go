package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/auth"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
)

// wsFrame is a decoded notification with its raw fields.
type wsFrame map[string]any

func (f wsFrame) typ() string {
	s, _ := f["type"].(string)
	return s
}

func startWSServer(t *testing.T, env *testEnv) string {
	t.Helper()
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialBridge(t *testing.T, base, tok string) *websocket.Conn {
	t.Helper()
	url := base + "/ws/mqtt"
	if tok != "" {
		url += "?token=" + tok
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

// readUntil reads frames until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) wsFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ws.SetReadDeadline(deadline) //nolint:errcheck // read error is checked below
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s frame: %v", typ, err)
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("decode frame %q: %v", data, err)
		}
		if frame.typ() == typ {
			return frame
		}
	}
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write %s: %v", frame, err)
	}
}

func TestWebSocket_Welcome(t *testing.T) {
	env := testServer(t)
	ws := dialBridge(t, startWSServer(t, env), token(t, auth.RoleViewer))

	frame := readUntil(t, ws, bridge.NoteSession)
	id, _ := frame["id"].(string)
	if id == "" {
		t.Fatalf("session frame has no id: %v", frame)
	}
	if _, err := env.srv.sessions.Get(id); err != nil {
		t.Errorf("sessions.Get(%s) error = %v", id, err)
	}
	if got := env.srv.hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	env := testServer(t)
	base := startWSServer(t, env)

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/mqtt", nil)
	if err == nil {
		t.Fatal("dial without token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(base+"/ws/mqtt?token=bogus", nil)
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWebSocket_InvalidFrame(t *testing.T) {
	env := testServer(t)
	ws := dialBridge(t, startWSServer(t, env), token(t, auth.RoleViewer))
	readUntil(t, ws, bridge.NoteSession)

	send(t, ws, `not json`)
	if msg, _ := readUntil(t, ws, bridge.NoteCommandError)["message"].(string); msg == "" {
		t.Error("error frame has no message")
	}

	send(t, ws, `{"type":"teleport"}`)
	if msg, _ := readUntil(t, ws, bridge.NoteCommandError)["message"].(string); !strings.Contains(msg, "teleport") {
		t.Errorf("message = %q, want it to name the command", msg)
	}
}

func TestWebSocket_ViewerCannotPublish(t *testing.T) {
	env := testServer(t)
	ws := dialBridge(t, startWSServer(t, env), token(t, auth.RoleViewer))
	readUntil(t, ws, bridge.NoteSession)

	send(t, ws, `{"type":"publish","topic":"thing/product/dock-1/services","payload":"{}"}`)
	msg, _ := readUntil(t, ws, bridge.NoteCommandError)["message"].(string)
	if !strings.HasPrefix(msg, "forbidden") {
		t.Errorf("message = %q, want forbidden", msg)
	}
}

func TestWebSocket_BridgeFlow(t *testing.T) {
	env := testServer(t)
	ws := dialBridge(t, startWSServer(t, env), token(t, auth.RoleOperator))
	id, _ := readUntil(t, ws, bridge.NoteSession)["id"].(string)

	send(t, ws, `{"type":"connect","config":{"protocol":"ws","host":"broker.test","port":8083,"path":"/mqtt"}}`)
	if res := readUntil(t, ws, bridge.NoteConnectResult); res["success"] != true {
		t.Fatalf("connect_result = %v", res)
	}
	readUntil(t, ws, bridge.NoteConnected)

	send(t, ws, `{"type":"subscribe","topic":"thing/product/+/osd","qos":1}`)
	sub := readUntil(t, ws, bridge.NoteSubscribeResult)
	if sub["topic"] != "thing/product/+/osd" || sub["result"] != float64(0) {
		t.Errorf("subscribe_result = %v", sub)
	}

	link := env.dialer.last(t)
	link.deliver("thing/product/dock-1/osd", `{"mode_code":1,"temperature":21.5}`)
	msg := readUntil(t, ws, bridge.NoteMessage)
	if msg["topic"] != "thing/product/dock-1/osd" {
		t.Errorf("mqtt_message = %v", msg)
	}

	// REST views see the same session.
	viewer := token(t, auth.RoleViewer)
	w := env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/subscriptions", viewer, nil)
	if got := decodeBody(t, w)["count"]; got != float64(1) {
		t.Errorf("subscriptions count = %v, want 1", got)
	}
	w = env.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/devices/dock-1", viewer, nil)
	if w.Code != http.StatusOK {
		t.Errorf("device status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	// A REST service call publishes through the connected session.
	w = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/services", token(t, auth.RoleOperator),
		map[string]any{"target": "dock-1", "method": "device_reboot"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("service call status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	call := decodeBody(t, w)
	if call["topic"] != "thing/product/dock-1/services" || call["replyTopic"] != "thing/product/dock-1/services_reply" {
		t.Errorf("call = %v", call)
	}
	if !slices.Contains(link.publishedTopics(), "thing/product/dock-1/services") {
		t.Errorf("published topics = %v", link.publishedTopics())
	}
	waitFor(t, "service call audit entry", func() bool {
		return auditTotal(t, env, audit.Filter{Action: audit.ActionServiceCall, SubjectID: "dock-1", SessionID: id}) == 1
	})

	// Closing the socket closes the session.
	ws.Close()
	waitFor(t, "session close", func() bool {
		_, err := env.srv.sessions.Get(id)
		return err != nil
	})
}
