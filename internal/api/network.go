package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/export"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/profile"
)

// pingTimeout bounds a network ping.
const pingTimeout = 5 * time.Second

// ProbeFunc checks that a broker config is reachable. mqtt.TestConnect is the default.
type ProbeFunc func(ctx context.Context, cfg mqtt.ConnectionConfig) mqtt.ProbeResult

// NetworkDialFunc opens a connection for the ping endpoint.
type NetworkDialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func defaultProbe(ctx context.Context, cfg mqtt.ConnectionConfig) mqtt.ProbeResult {
	return mqtt.TestConnect(ctx, cfg)
}

func defaultNetworkDial(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// testConnectRequest is the body of POST /mqtt/test. Config wins over ProfileID.
type testConnectRequest struct {
	Config    *mqtt.ConnectionConfig `json:"config,omitempty"`
	ProfileID string                 `json:"profileId,omitempty"`
}

// handleTestConnect probes a broker without touching any session.
// It answers 200 when the broker accepted, 504 on timeout and 502 otherwise.
func (s *Server) handleTestConnect(w http.ResponseWriter, r *http.Request) {
	var req testConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var cfg mqtt.ConnectionConfig
	switch {
	case req.Config != nil:
		cfg = *req.Config
	case req.ProfileID != "":
		p, err := s.profiles.Get(r.Context(), req.ProfileID)
		if err != nil {
			if errors.Is(err, profile.ErrProfileNotFound) {
				writeNotFound(w, "profile not found")
				return
			}
			s.logger.Error("loading profile for test", "profile_id", req.ProfileID, "error", err)
			writeInternalError(w, "failed to load profile")
			return
		}
		cfg = p.Config
	}
	if cfg.Host == "" || cfg.Port == 0 || cfg.Protocol == "" {
		writeBadRequest(w, "invalid config: protocol, host and port are required")
		return
	}

	result := s.probe(r.Context(), cfg)
	status := http.StatusOK
	switch {
	case result.OK:
	case result.Class == mqtt.ClassTimeout:
		status = http.StatusGatewayTimeout
	default:
		status = http.StatusBadGateway
	}
	s.logger.Info("broker test", "url", result.URL, "ok", result.OK, "class", result.Class)
	writeJSON(w, status, result)
}

// pingResult is the body returned by GET /network/ping.
type pingResult struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// handlePing checks TCP reachability of host:port within five seconds.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	port, err := strconv.Atoi(r.URL.Query().Get("port"))
	if host == "" || err != nil || port < 1 || port > 65535 {
		writeBadRequest(w, "host and a port between 1 and 65535 are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	start := time.Now()
	conn, err := s.dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	result := pingResult{Host: host, Port: port, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		writeJSON(w, http.StatusBadGateway, result)
		return
	}
	conn.Close()
	result.Success = true
	writeJSON(w, http.StatusOK, result)
}

// handleRedisTest probes a Redis server with PING and INFO.
func (s *Server) handleRedisTest(w http.ResponseWriter, r *http.Request) {
	var target export.RedisTarget
	if err := json.NewDecoder(r.Body).Decode(&target); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	result := export.TestRedis(r.Context(), target)
	status := http.StatusOK
	if !result.OK {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}
