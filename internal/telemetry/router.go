package telemetry

import (
	"bytes"
	"encoding/json"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// Publication is what a Router hands its observer for every inbound message.
// Fields is nil when the payload is not a JSON object; DeviceID is empty
// when the topic yields none.
type Publication struct {
	Record   Record
	DeviceID string
	Fields   map[string]any
	At       time.Time
}

// Router records every inbound publication in the history log and projects
// JSON object payloads onto the device table.
type Router struct {
	history  *HistoryLog
	devices  *Projector
	rule     Rule
	seq      uint64
	now      func() time.Time
	observer func(Publication)
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// WithObserver registers fn to see every routed publication. fn runs on the
// routing goroutine and must not block.
func WithObserver(fn func(Publication)) RouterOption {
	return func(r *Router) { r.observer = fn }
}

// NewRouter builds a router over a fresh history log of the given limit.
func NewRouter(rule Rule, historyLimit int, opts ...RouterOption) *Router {
	r := &Router{
		history: NewHistoryLog(historyLimit),
		devices: NewProjector(),
		rule:    rule,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// History returns the router's history log.
func (r *Router) History() *HistoryLog { return r.history }

// Devices returns the router's device projector.
func (r *Router) Devices() *Projector { return r.devices }

// Route handles one inbound message and returns the record it stored.
// Payloads that are not JSON objects are kept in history only.
func (r *Router) Route(msg mqtt.Message) Record {
	now := r.now()
	r.seq++
	rec := Record{
		ID:         strconv.FormatUint(r.seq, 10) + "-" + strconv.FormatUint(uint64(rand.Uint32()), 36),
		Topic:      msg.Topic,
		Payload:    string(msg.Payload),
		QoS:        msg.QoS,
		Retain:     msg.Retain,
		ReceivedAt: now,
	}
	r.history.Add(rec)

	pub := Publication{Record: rec, At: now}
	if fields, ok := decodeObject(msg.Payload); ok {
		pub.Fields = fields
		if id, ok := r.rule.DeviceID(msg.Topic); ok {
			pub.DeviceID = id
			pub.At = sourceTime(fields, now)
			r.devices.Project(id, fields, msg.Topic, now)
		}
	}

	if r.observer != nil {
		r.observer(pub)
	}
	return rec
}

// decodeObject decodes a JSON object payload. Anything else, including
// malformed JSON, is reported as not ok.
func decodeObject(payload []byte) (map[string]any, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, false
	}
	return fields, true
}

// Millisecond epoch bounds accepted as a device-supplied timestamp.
const (
	minSourceMillis = 1_000_000_000_000 // 2001-09-09
	maxClockSkew    = 24 * time.Hour
)

// sourceTime returns the device's own "timestamp" field (epoch millis) when
// present and plausible, else fallback. It only dates exported points; the
// projector merges in receive order.
func sourceTime(fields map[string]any, fallback time.Time) time.Time {
	n, ok := fields["timestamp"].(json.Number)
	if !ok {
		return fallback
	}
	ms, err := n.Int64()
	if err != nil || ms < minSourceMillis {
		return fallback
	}
	ts := time.UnixMilli(ms)
	if ts.After(fallback.Add(maxClockSkew)) {
		return fallback
	}
	return ts
}
