package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Connection defaults applied by WithDefaults.
const (
	DefaultProtocol         = "tcp"
	DefaultPort             = 1883
	DefaultWebSocketPath    = "/mqtt"
	DefaultConnectTimeoutMs = 30000
	DefaultKeepaliveSec     = 60
	clientIDPrefix          = "web_client_"
)

// ConnectionConfig describes one broker connection attempt. It is the wire
// shape used by bridge clients and the profile store. A config must not be
// mutated once a connect attempt has started.
type ConnectionConfig struct {
	Protocol           string `json:"protocol"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Path               string `json:"path,omitempty"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"password,omitempty"`
	ClientID           string `json:"clientId,omitempty"`
	Clean              *bool  `json:"clean,omitempty"`
	ConnectTimeoutMs   int    `json:"connectTimeoutMs,omitempty"`
	KeepaliveSec       int    `json:"keepaliveSec,omitempty"`
	ReconnectPeriodMs  int    `json:"reconnectPeriodMs"`
	RejectUnauthorized bool   `json:"rejectUnauthorized"`
}

// WithDefaults returns a copy with empty fields filled in. A missing client
// id is replaced with a random "web_client_" id.
func (c ConnectionConfig) WithDefaults() ConnectionConfig {
	if c.Protocol == "" {
		c.Protocol = DefaultProtocol
	}
	c.Protocol = strings.ToLower(c.Protocol)
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ClientID == "" {
		c.ClientID = randomClientID()
	}
	if c.Clean == nil {
		clean := true
		c.Clean = &clean
	}
	if c.ConnectTimeoutMs <= 0 {
		c.ConnectTimeoutMs = DefaultConnectTimeoutMs
	}
	if c.KeepaliveSec <= 0 {
		c.KeepaliveSec = DefaultKeepaliveSec
	}
	return c
}

// Validate reports whether the config can be used to open a connection.
func (c ConnectionConfig) Validate() error {
	var problems []string
	if c.Host == "" {
		problems = append(problems, "host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}
	if _, err := scheme(c.Protocol); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// CleanSession reports the clean-session flag, true when unset.
func (c ConnectionConfig) CleanSession() bool {
	return c.Clean == nil || *c.Clean
}

// ConnectTimeout returns the handshake deadline.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	if c.ConnectTimeoutMs <= 0 {
		return DefaultConnectTimeoutMs * time.Millisecond
	}
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// Keepalive returns the keepalive interval.
func (c ConnectionConfig) Keepalive() time.Duration {
	if c.KeepaliveSec <= 0 {
		return DefaultKeepaliveSec * time.Second
	}
	return time.Duration(c.KeepaliveSec) * time.Second
}

// BrokerURL renders the URL handed to paho.
//
// Examples:
//
//	tcp://10.0.0.5:1883
//	ssl://broker.example.com:8883
//	ws://10.0.0.5:8083/mqtt
func (c ConnectionConfig) BrokerURL() string {
	s, err := scheme(c.Protocol)
	if err != nil {
		s = c.Protocol
	}
	hostPort := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	if s == "ws" || s == "wss" {
		path := c.Path
		if path == "" {
			path = DefaultWebSocketPath
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		return s + "://" + hostPort + path
	}
	return s + "://" + hostPort
}

// Redacted returns a copy safe for logging.
func (c ConnectionConfig) Redacted() ConnectionConfig {
	if c.Password != "" {
		c.Password = "***"
	}
	return c
}

func (c ConnectionConfig) secure() bool {
	s, _ := scheme(c.Protocol)
	return s == "ssl" || s == "wss"
}

// scheme maps a user-facing protocol name onto a paho URL scheme.
func scheme(protocol string) (string, error) {
	switch strings.ToLower(protocol) {
	case "", "tcp", "mqtt":
		return "tcp", nil
	case "ssl", "tls", "mqtts":
		return "ssl", nil
	case "ws":
		return "ws", nil
	case "wss":
		return "wss", nil
	default:
		return "", fmt.Errorf("unsupported protocol %q", protocol)
	}
}

func randomClientID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return clientIDPrefix + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return clientIDPrefix + hex.EncodeToString(b)
}
