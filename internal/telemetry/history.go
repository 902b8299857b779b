package telemetry

import "time"

// DefaultHistoryLimit is the number of records kept when no limit is configured.
const DefaultHistoryLimit = 1000

// Record is one inbound publication as kept in the history log.
type Record struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	QoS        byte      `json:"qos"`
	Retain     bool      `json:"retain"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// HistoryLog is a fixed-capacity ring of records. Once full, each insert
// evicts the oldest record.
type HistoryLog struct {
	buf  []Record
	next int
	size int
}

// NewHistoryLog creates a log holding at most limit records.
func NewHistoryLog(limit int) *HistoryLog {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryLog{buf: make([]Record, limit)}
}

// Add inserts r as the newest record.
func (h *HistoryLog) Add(r Record) {
	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Len returns the number of records held.
func (h *HistoryLog) Len() int { return h.size }

// Cap returns the maximum number of records.
func (h *HistoryLog) Cap() int { return len(h.buf) }

// Records returns up to limit records, newest first. A limit <= 0 returns all.
func (h *HistoryLog) Records(limit int) []Record {
	n := h.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, n)
	idx := h.next
	for i := 0; i < n; i++ {
		idx = (idx - 1 + len(h.buf)) % len(h.buf)
		out[i] = h.buf[idx]
	}
	return out
}

// Clear drops every record.
func (h *HistoryLog) Clear() {
	clear(h.buf)
	h.next = 0
	h.size = 0
}
