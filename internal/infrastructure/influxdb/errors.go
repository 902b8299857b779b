package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the influxdb section is disabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrUnreachable means the server did not answer a ping.
	ErrUnreachable = errors.New("influxdb: server unreachable")

	// ErrUnhealthy means the server answered but reported itself unhealthy.
	ErrUnhealthy = errors.New("influxdb: server not healthy")

	// ErrClosed is returned by HealthCheck after Close.
	ErrClosed = errors.New("influxdb: client closed")
)
