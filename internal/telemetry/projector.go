package telemetry

import (
	"encoding/json"
	"maps"
	"time"
)

// DeviceState is the merged view of one device. It serialises as a flat
// object: the merged fields plus lastUpdate and topic.
type DeviceState struct {
	Fields     map[string]any
	LastUpdate time.Time
	Topic      string
}

// MarshalJSON flattens Fields alongside lastUpdate and topic.
func (d DeviceState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Fields)+2)
	maps.Copy(out, d.Fields)
	out["lastUpdate"] = d.LastUpdate
	out["topic"] = d.Topic
	return json.Marshal(out)
}

type deviceEntry struct {
	state DeviceState
	// stamps records, per field, the time of the update that wrote it.
	stamps map[string]time.Time
}

// Projector keeps the latest known fields of every device.
//
// Merging is shallow: a top-level key from a newer update replaces the old
// value wholesale. Each field remembers when it was written, so an update
// carrying an older timestamp cannot overwrite a field set by a newer one.
type Projector struct {
	devices map[string]*deviceEntry
}

// NewProjector creates an empty projector.
func NewProjector() *Projector {
	return &Projector{devices: make(map[string]*deviceEntry)}
}

// Project merges fields into the state of deviceID.
func (p *Projector) Project(deviceID string, fields map[string]any, topic string, ts time.Time) {
	e, ok := p.devices[deviceID]
	if !ok {
		e = &deviceEntry{
			state:  DeviceState{Fields: make(map[string]any, len(fields))},
			stamps: make(map[string]time.Time, len(fields)),
		}
		p.devices[deviceID] = e
	}

	for k, v := range fields {
		if prev, seen := e.stamps[k]; seen && ts.Before(prev) {
			continue
		}
		e.state.Fields[k] = v
		e.stamps[k] = ts
	}

	if !ts.Before(e.state.LastUpdate) {
		e.state.LastUpdate = ts
		e.state.Topic = topic
	}
}

// Device returns a copy of one device's state.
func (p *Projector) Device(deviceID string) (DeviceState, bool) {
	e, ok := p.devices[deviceID]
	if !ok {
		return DeviceState{}, false
	}
	return e.snapshot(), true
}

// Devices returns a copy of every device's state.
func (p *Projector) Devices() map[string]DeviceState {
	out := make(map[string]DeviceState, len(p.devices))
	for id, e := range p.devices {
		out[id] = e.snapshot()
	}
	return out
}

// Len returns the number of known devices.
func (p *Projector) Len() int { return len(p.devices) }

// Clear forgets every device.
func (p *Projector) Clear() {
	clear(p.devices)
}

// snapshot copies the top-level map. Nested values are shared; they are
// only ever replaced, never modified in place.
func (e *deviceEntry) snapshot() DeviceState {
	s := e.state
	s.Fields = maps.Clone(e.state.Fields)
	return s
}
