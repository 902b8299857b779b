package bridge

import (
	"errors"
	"fmt"
)

// Domain-specific errors for bridge sessions.
var (
	// ErrNotConnected is returned by operations that need a Connected session.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrSubscriptionTimeout is returned when no confirmation arrives in time.
	ErrSubscriptionTimeout = errors.New("bridge: subscription timeout")

	// ErrSubscriptionFailed matches every *SubscribeError.
	ErrSubscriptionFailed = errors.New("bridge: subscription failed")

	// ErrCanceled is returned to pending operations when the session disconnects.
	ErrCanceled = errors.New("bridge: canceled by disconnect")

	// ErrSessionClosed is returned once a session has been closed.
	ErrSessionClosed = errors.New("bridge: session closed")

	// ErrSessionNotFound is returned by the Manager for unknown ids.
	ErrSessionNotFound = errors.New("bridge: session not found")

	// ErrUnknownCommand is returned by DecodeCommand for an unrecognised type.
	ErrUnknownCommand = errors.New("bridge: unknown command type")

	// ErrInvalidCommand is returned by DecodeCommand for malformed frames.
	ErrInvalidCommand = errors.New("bridge: invalid command")

	// ErrServiceCallsDisabled is returned when no service caller is configured.
	ErrServiceCallsDisabled = errors.New("bridge: service calls not configured")
)

// SubscribeError reports a refused subscription: either the broker
// returned a non-zero result code or the request itself failed.
type SubscribeError struct {
	Topic string
	Code  *int
	Err   error
}

func (e *SubscribeError) Error() string {
	switch {
	case e.Code != nil:
		return fmt.Sprintf("bridge: subscription to %q refused (result=%d)", e.Topic, *e.Code)
	case e.Err != nil:
		return fmt.Sprintf("bridge: subscription to %q failed: %v", e.Topic, e.Err)
	default:
		return fmt.Sprintf("bridge: subscription to %q failed", e.Topic)
	}
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSubscriptionFailed) match any SubscribeError.
func (e *SubscribeError) Is(target error) bool { return target == ErrSubscriptionFailed }
