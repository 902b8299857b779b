package bridge

import (
	"context"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

// Snapshot describes a session at one instant.
type Snapshot struct {
	ID                    string              `json:"id"`
	State                 State               `json:"state"`
	BrokerURL             string              `json:"brokerUrl,omitempty"`
	ClientID              string              `json:"clientId,omitempty"`
	CreatedAt             time.Time           `json:"createdAt"`
	ConnectedAt           *time.Time          `json:"connectedAt,omitempty"`
	Subscriptions         []SubscriptionEntry `json:"subscriptions"`
	PendingSubscriptions  []string            `json:"pendingSubscriptions"`
	PreviousSubscriptions []SubscriptionEntry `json:"previousSubscriptions"`
	HistoryCount          int                 `json:"historyCount"`
	DeviceCount           int                 `json:"deviceCount"`
	MessagesReceived      uint64              `json:"messagesReceived"`
	MessagesPublished     uint64              `json:"messagesPublished"`
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func() {
		snap = Snapshot{
			ID:                    s.id,
			State:                 s.State(),
			CreatedAt:             s.createdAt,
			Subscriptions:         s.registry.Entries(),
			PendingSubscriptions:  s.registry.PendingTopics(),
			PreviousSubscriptions: append([]SubscriptionEntry{}, s.previous...),
			HistoryCount:          s.router.History().Len(),
			DeviceCount:           s.router.Devices().Len(),
			MessagesReceived:      s.received,
			MessagesPublished:     s.published,
		}
		if snap.State != StateDisconnected {
			snap.BrokerURL = s.cfg.BrokerURL()
			snap.ClientID = s.cfg.ClientID
		}
		if !s.connectedAt.IsZero() {
			at := s.connectedAt
			snap.ConnectedAt = &at
		}
	})
	return snap, err
}

// Subscriptions returns the confirmed subscriptions sorted by topic.
func (s *Session) Subscriptions(ctx context.Context) ([]SubscriptionEntry, error) {
	var out []SubscriptionEntry
	err := s.call(ctx, func() { out = s.registry.Entries() })
	return out, err
}

// History returns up to limit records, newest first. A limit of zero or
// less returns everything retained.
func (s *Session) History(ctx context.Context, limit int) ([]telemetry.Record, error) {
	var out []telemetry.Record
	err := s.call(ctx, func() { out = s.router.History().Records(limit) })
	return out, err
}

// ClearHistory empties the message history.
func (s *Session) ClearHistory(ctx context.Context) error {
	return s.call(ctx, func() { s.router.History().Clear() })
}

// Devices returns a copy of every projected device state.
func (s *Session) Devices(ctx context.Context) (map[string]telemetry.DeviceState, error) {
	var out map[string]telemetry.DeviceState
	err := s.call(ctx, func() { out = s.router.Devices().Devices() })
	return out, err
}

// Device returns the projected state of one device.
func (s *Session) Device(ctx context.Context, id string) (telemetry.DeviceState, bool, error) {
	var (
		state telemetry.DeviceState
		ok    bool
	)
	err := s.call(ctx, func() { state, ok = s.router.Devices().Device(id) })
	return state, ok, err
}

// ClearDevices forgets every projected device.
func (s *Session) ClearDevices(ctx context.Context) error {
	return s.call(ctx, func() { s.router.Devices().Clear() })
}
