package mqtt

import (
	"context"
	"errors"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultProbeTimeout = 10 * time.Second
	maxProbeTimeout     = 20 * time.Second
)

// ProbeResult is the outcome of TestConnect.
type ProbeResult struct {
	OK    bool       `json:"ok"`
	URL   string     `json:"url"`
	Error string     `json:"error,omitempty"`
	Class ErrorClass `json:"class,omitempty"`
}

// ProbeTimeout returns the deadline TestConnect applies to cfg:
// the configured connect timeout (10s when unset) capped at 20s.
func ProbeTimeout(cfg ConnectionConfig) time.Duration {
	timeout := defaultProbeTimeout
	if cfg.ConnectTimeoutMs > 0 {
		timeout = time.Duration(cfg.ConnectTimeoutMs) * time.Millisecond
	}
	return min(timeout, maxProbeTimeout)
}

// TestConnect opens a short-lived connection to check that cfg reaches a
// broker, then disconnects. It shares nothing with bridge sessions.
func TestConnect(ctx context.Context, cfg ConnectionConfig) ProbeResult {
	timeout := ProbeTimeout(cfg)
	cfg = cfg.WithDefaults()
	cfg.ClientID = randomClientID()
	cfg.ConnectTimeoutMs = int(timeout / time.Millisecond)

	result := ProbeResult{URL: cfg.BrokerURL()}
	if err := cfg.Validate(); err != nil {
		result.Error = err.Error()
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := pahomqtt.NewClient(buildClientOptions(cfg))
	token := client.Connect()

	var err error
	select {
	case <-token.Done():
		err = token.Error()
	case <-ctx.Done():
		err = ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = ErrTimeout
		}
		// Drop a connection that completes after we gave up on it.
		go func() {
			token.Wait()
			if client.IsConnectionOpen() {
				client.Disconnect(0)
			}
		}()
	}

	if client.IsConnectionOpen() {
		client.Disconnect(0)
	}

	if err != nil {
		te := ClassifyError(err, cfg)
		result.Error = te.Error()
		result.Class = te.Class
		return result
	}

	result.OK = true
	return result
}
