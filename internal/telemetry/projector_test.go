package telemetry

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestProjector_ShallowMerge(t *testing.T) {
	p := NewProjector()
	p.Project("SN1", map[string]any{"battery": 80, "pos": map[string]any{"lat": 1.0, "lng": 2.0}}, "a/SN1/osd", t0)
	p.Project("SN1", map[string]any{"pos": map[string]any{"lat": 3.0}, "mode": "idle"}, "a/SN1/state", t0.Add(time.Second))

	d, ok := p.Device("SN1")
	if !ok {
		t.Fatal("Device(SN1) not found")
	}
	want := map[string]any{
		"battery": 80,
		"pos":     map[string]any{"lat": 3.0},
		"mode":    "idle",
	}
	if !reflect.DeepEqual(d.Fields, want) {
		t.Errorf("Fields = %v, want %v", d.Fields, want)
	}
	if d.Topic != "a/SN1/state" {
		t.Errorf("Topic = %q, want a/SN1/state", d.Topic)
	}
	if !d.LastUpdate.Equal(t0.Add(time.Second)) {
		t.Errorf("LastUpdate = %v", d.LastUpdate)
	}
}

func TestProjector_Idempotent(t *testing.T) {
	p := NewProjector()
	fields := map[string]any{"battery": 80, "mode": "flying"}
	p.Project("SN1", fields, "t", t0)
	first, _ := p.Device("SN1")
	p.Project("SN1", fields, "t", t0.Add(time.Minute))
	second, _ := p.Device("SN1")

	if !reflect.DeepEqual(first.Fields, second.Fields) {
		t.Errorf("fields changed on replay: %v vs %v", first.Fields, second.Fields)
	}
}

func TestProjector_OlderUpdateDoesNotRegress(t *testing.T) {
	p := NewProjector()
	p.Project("SN1", map[string]any{"battery": 70}, "new", t0.Add(time.Second))
	p.Project("SN1", map[string]any{"battery": 90, "signal": 4}, "old", t0)

	d, _ := p.Device("SN1")
	if d.Fields["battery"] != 70 {
		t.Errorf("battery = %v, want 70 (newer value kept)", d.Fields["battery"])
	}
	if d.Fields["signal"] != 4 {
		t.Errorf("signal = %v, want 4 (field never written by a newer update)", d.Fields["signal"])
	}
	if d.Topic != "new" || !d.LastUpdate.Equal(t0.Add(time.Second)) {
		t.Errorf("Topic/LastUpdate regressed: %q %v", d.Topic, d.LastUpdate)
	}
}

func TestProjector_SnapshotIsCopy(t *testing.T) {
	p := NewProjector()
	p.Project("SN1", map[string]any{"a": 1}, "t", t0)

	all := p.Devices()
	all["SN1"].Fields["a"] = 2

	d, _ := p.Device("SN1")
	if d.Fields["a"] != 1 {
		t.Error("mutating a snapshot changed projector state")
	}

	p.Clear()
	if p.Len() != 0 {
		t.Errorf("Len() after Clear() = %d", p.Len())
	}
}

func TestDeviceState_MarshalJSON(t *testing.T) {
	d := DeviceState{
		Fields:     map[string]any{"battery": 80, "topic": "shadowed"},
		LastUpdate: t0,
		Topic:      "thing/product/SN1/events",
	}
	data, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["battery"] != float64(80) {
		t.Errorf("battery = %v", got["battery"])
	}
	if got["topic"] != "thing/product/SN1/events" {
		t.Errorf("topic = %v", got["topic"])
	}
	if got["lastUpdate"] != "2026-03-01T12:00:00Z" {
		t.Errorf("lastUpdate = %v", got["lastUpdate"])
	}
}
