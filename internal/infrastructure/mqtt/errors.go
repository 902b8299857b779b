package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/gorilla/websocket"
)

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when attempting operations on a disconnected link.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrInvalidConfig is returned when a ConnectionConfig cannot be used.
	ErrInvalidConfig = errors.New("mqtt: invalid connection config")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when an empty or malformed topic is provided.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrPayloadTooLarge is returned when a publish payload exceeds the limit.
	ErrPayloadTooLarge = errors.New("mqtt: payload too large")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrTransport matches every *TransportError.
	ErrTransport = errors.New("mqtt: transport error")
)

// ErrorClass names the cause of a transport failure.
type ErrorClass string

// Failure classes reported to users.
const (
	ClassRefused   ErrorClass = "connection_refused"
	ClassDNS       ErrorClass = "dns"
	ClassWebSocket ErrorClass = "websocket"
	ClassTLS       ErrorClass = "tls"
	ClassTimeout   ErrorClass = "timeout"
	ClassAuth      ErrorClass = "auth"
	ClassRejected  ErrorClass = "rejected"
	ClassClosed    ErrorClass = "closed"
	ClassUnknown   ErrorClass = "unknown"
)

// TransportError is an underlying connection failure with enough context
// for a human to tell a wrong address from a down server or a protocol mismatch.
type TransportError struct {
	Class ErrorClass
	Host  string
	Port  int
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mqtt: %s (%s:%d): %s", e.Class.Describe(), e.Host, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Describe returns a human-readable hint for the class.
func (c ErrorClass) Describe() string {
	switch c {
	case ClassRefused:
		return "connection refused, check the address or whether the broker is running"
	case ClassDNS:
		return "host name could not be resolved"
	case ClassWebSocket:
		return "websocket handshake failed, check protocol and path"
	case ClassTLS:
		return "tls handshake failed"
	case ClassTimeout:
		return "connection timed out"
	case ClassAuth:
		return "broker rejected the credentials"
	case ClassRejected:
		return "broker rejected the connection"
	case ClassClosed:
		return "connection closed by broker, possibly a protocol mismatch"
	default:
		return "transport error"
	}
}

// ClassifyError wraps err in a *TransportError for the given config.
// It returns nil for a nil error and passes an existing TransportError through.
func ClassifyError(err error, cfg ConnectionConfig) *TransportError {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{
		Class: classOf(err),
		Host:  cfg.Host,
		Port:  cfg.Port,
		Err:   err,
	}
}

func classOf(err error) ErrorClass {
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	var netErr net.Error

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassRefused
	case errors.As(err, &dnsErr):
		return ClassDNS
	case errors.Is(err, websocket.ErrBadHandshake):
		return ClassWebSocket
	case errors.As(err, &certErr), errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr), errors.As(err, &recordErr):
		return ClassTLS
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword),
		errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return ClassAuth
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion),
		errors.Is(err, packets.ErrorRefusedIDRejected),
		errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return ClassRejected
	case errors.Is(err, ErrTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET):
		return ClassClosed
	}

	// paho flattens some dial errors into strings.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return ClassRefused
	case strings.Contains(msg, "no such host"):
		return ClassDNS
	case strings.Contains(msg, "bad handshake"), strings.Contains(msg, "websocket"):
		return ClassWebSocket
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ClassTimeout
	case strings.Contains(msg, "eof"):
		return ClassClosed
	}
	return ClassUnknown
}
