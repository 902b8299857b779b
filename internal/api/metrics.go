package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/export"
)

// metricsSnapshotTimeout bounds the per-session snapshot walk.
const metricsSnapshotTimeout = 2 * time.Second

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	Sessions      SessionMetrics  `json:"sessions"`
	Export        *export.Stats   `json:"export,omitempty"`
	Audit         *AuditMetrics   `json:"audit,omitempty"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines   int     `json:"goroutines"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	NumGC        uint32  `json:"num_gc"`
	LastPauseMic uint64  `json:"last_gc_pause_us"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// SessionMetrics aggregates the live bridge sessions. ByState is read
// without touching the sessions; the remaining totals come from snapshots,
// and sessions that do not answer in time are left out of them.
type SessionMetrics struct {
	Total             int            `json:"total"`
	ByState           map[string]int `json:"by_state"`
	Subscriptions     int            `json:"subscriptions"`
	Devices           int            `json:"devices"`
	MessagesReceived  uint64         `json:"messages_received"`
	MessagesPublished uint64         `json:"messages_published"`
}

// AuditMetrics reports the audit write queue.
type AuditMetrics struct {
	Queued   int `json:"queued"`
	Capacity int `json:"capacity"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:   runtime.NumGoroutine(),
			HeapAllocMB:  float64(mem.HeapAlloc) / 1024 / 1024,
			HeapObjects:  mem.HeapObjects,
			NumGC:        mem.NumGC,
			LastPauseMic: mem.PauseNs[(mem.NumGC+255)%256] / 1000,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Sessions:  s.sessionMetrics(r.Context()),
	}

	if s.export != nil {
		stats := s.export.Stats()
		metrics.Export = &stats
	}
	if s.auditCh != nil {
		metrics.Audit = &AuditMetrics{Queued: len(s.auditCh), Capacity: cap(s.auditCh)}
	}
	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) sessionMetrics(ctx context.Context) SessionMetrics {
	m := SessionMetrics{ByState: make(map[string]int)}
	for state, count := range s.sessions.StateCounts() {
		m.ByState[state.String()] = count
		m.Total += count
	}

	ctx, cancel := context.WithTimeout(ctx, metricsSnapshotTimeout)
	defer cancel()
	for _, sess := range s.sessions.List() {
		snap, err := sess.Snapshot(ctx)
		if err != nil {
			continue
		}
		m.Subscriptions += len(snap.Subscriptions)
		m.Devices += snap.DeviceCount
		m.MessagesReceived += snap.MessagesReceived
		m.MessagesPublished += snap.MessagesPublished
	}
	return m
}
