package api

import (
	"context"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/audit"
	"github.com/nerrad567/fleet-bridge/internal/auth"
	"github.com/nerrad567/fleet-bridge/internal/bridge"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

func createDevice(t *testing.T, env *testEnv, body map[string]any) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/v1/devices", token(t, auth.RoleOperator), body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create %v status = %d: %s", body["sn"], w.Code, w.Body.String())
	}
	id, _ := decodeBody(t, w)["id"].(string)
	return id
}

// connectedSession opens a session and connects it through the fake dialer.
func connectedSession(t *testing.T, env *testEnv) (*bridge.Session, *fakeLink) {
	t.Helper()
	sess := env.srv.sessions.Open(func(bridge.Notification) {})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sess.Connect(ctx, bridge.ConnectCommand{Config: &mqtt.ConnectionConfig{
		Protocol: "ws", Host: "broker.test", Port: 8083, Path: "/mqtt",
	}})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	return sess, env.dialer.last(t)
}

func TestDevices_CRUD(t *testing.T) {
	env := testServer(t)
	operator := token(t, auth.RoleOperator)
	viewer := token(t, auth.RoleViewer)

	dockID := createDevice(t, env, map[string]any{"name": "Dock 2", "sn": "DOCK1", "type": "dock"})
	acID := createDevice(t, env, map[string]any{"name": "M3D", "sn": "AC1"})

	w := env.do(t, http.MethodGet, "/api/v1/devices", viewer, nil)
	if w.Code != http.StatusOK || decodeBody(t, w)["count"] != float64(2) {
		t.Fatalf("list = %d %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPut, "/api/v1/devices/"+acID, operator, map[string]any{"airportSn": "DOCK1", "status": "online"})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w); got["airportSn"] != "DOCK1" || got["status"] != "online" {
		t.Errorf("updated = %v", got)
	}

	env.do(t, http.MethodPost, "/api/v1/devices/"+acID+"/set-current", operator, nil)
	w = env.do(t, http.MethodPost, "/api/v1/devices/"+dockID+"/set-gateway", operator, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("set-gateway status = %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodGet, "/api/v1/devices/current", viewer, nil)
	sel := decodeBody(t, w)
	cur, _ := sel["device"].(map[string]any)
	gw, _ := sel["gateway"].(map[string]any)
	if cur["id"] != acID || gw["id"] != dockID {
		t.Errorf("current = %v", sel)
	}

	w = env.do(t, http.MethodDelete, "/api/v1/devices/clear", operator, nil)
	if w.Code != http.StatusOK || decodeBody(t, w)["removed"] != float64(2) {
		t.Errorf("clear = %d %s", w.Code, w.Body.String())
	}

	waitFor(t, "registry audit entries", func() bool {
		return auditTotal(t, env, audit.Filter{Subject: audit.SubjectRegistry}) == 6
	})
}

func TestDevices_Errors(t *testing.T) {
	env := testServer(t)
	operator := token(t, auth.RoleOperator)
	createDevice(t, env, map[string]any{"name": "Dock", "sn": "DOCK1", "type": "dock"})

	tests := []struct {
		name   string
		method string
		path   string
		tok    string
		body   any
		want   int
	}{
		{"duplicate sn", http.MethodPost, "/api/v1/devices", operator, map[string]any{"name": "x", "sn": "DOCK1"}, http.StatusConflict},
		{"missing sn", http.MethodPost, "/api/v1/devices", operator, map[string]any{"name": "x"}, http.StatusBadRequest},
		{"invalid JSON", http.MethodPost, "/api/v1/devices", operator, "{", http.StatusBadRequest},
		{"viewer cannot create", http.MethodPost, "/api/v1/devices", token(t, auth.RoleViewer), map[string]any{"name": "x", "sn": "SN9"}, http.StatusForbidden},
		{"unknown device", http.MethodGet, "/api/v1/devices/missing", operator, nil, http.StatusNotFound},
		{"empty update", http.MethodPut, "/api/v1/devices/missing", operator, map[string]any{}, http.StatusBadRequest},
		{"select unknown", http.MethodPost, "/api/v1/devices/missing/set-current", operator, nil, http.StatusNotFound},
		{"delete unknown", http.MethodDelete, "/api/v1/devices/missing", operator, nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.tok, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDevices_Unconfigured(t *testing.T) {
	env := testServer(t, func(d *Deps) { d.Devices = nil })
	admin := token(t, auth.RoleAdmin)

	for _, p := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/devices"},
		{http.MethodPost, "/api/v1/devices/x/set-current"},
		{http.MethodPost, "/api/v1/devices/x/set-gateway"},
	} {
		w := env.do(t, p.method, p.path, admin, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want %d", p.method, p.path, w.Code, http.StatusServiceUnavailable)
		}
	}
}

func TestLive_ResolvesThroughRegistry(t *testing.T) {
	env := testServer(t)
	operator := token(t, auth.RoleOperator)
	createDevice(t, env, map[string]any{"name": "Dock", "sn": "DOCK1", "type": "dock"})
	createDevice(t, env, map[string]any{"name": "Aircraft", "sn": "AC1", "airportSn": "DOCK1"})

	sess, link := connectedSession(t, env)
	base := "/api/v1/sessions/" + sess.ID() + "/devices/"

	w := env.do(t, http.MethodPost, base+"AC1/live/start", operator, map[string]any{"live_url": "rtmp://cdn/live"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("live start status = %d: %s", w.Code, w.Body.String())
	}
	if call := decodeBody(t, w); call["topic"] != "thing/product/DOCK1/services" {
		t.Errorf("call topic = %v, want the dock's services topic", call["topic"])
	}
	if qos, ok := link.subscribedQoS("thing/product/DOCK1/live_status"); !ok || qos != 1 {
		t.Errorf("live_status subscription = qos %d, subscribed %v; want qos 1", qos, ok)
	}

	// Unregistered devices are addressed directly.
	w = env.do(t, http.MethodPost, base+"RAW9/live/status", operator, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("live status = %d: %s", w.Code, w.Body.String())
	}
	if !slices.Contains(link.publishedTopics(), "thing/product/RAW9/services") {
		t.Errorf("published = %v", link.publishedTopics())
	}
	if _, ok := link.subscribedQoS("thing/product/RAW9/live_status"); !ok {
		t.Error("live status did not subscribe live_status")
	}

	// The aliases need a selection.
	w = env.do(t, http.MethodPost, base+"gateway/live/stop", operator, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("gateway alias without selection status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
