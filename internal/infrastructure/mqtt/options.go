package mqtt

import (
	"crypto/tls"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho options for a single connect attempt.
//
// Reconnection is always left to the caller: auto-reconnect and connect
// retry stay disabled whatever ReconnectPeriodMs says.
func buildClientOptions(cfg ConnectionConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL())
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(cfg.CleanSession())
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.ConnectTimeout())
	opts.SetKeepAlive(cfg.Keepalive())

	if cfg.secure() {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			//nolint:gosec // self-signed brokers are common on site networks; opt-in per profile
			InsecureSkipVerify: !cfg.RejectUnauthorized,
		})
	}

	return opts
}
