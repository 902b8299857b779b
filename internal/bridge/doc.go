// Package bridge implements the per-client session that stands between a
// browser channel and one MQTT broker connection.
//
// A Session owns a broker Link, a subscription Registry and a telemetry
// Router. All of that state is confined to one event-loop goroutine: client
// commands, broker events and timer expiries are queued as closures and run
// in order, so none of it is locked. The connection state is mirrored in an
// atomic for cheap reads from other goroutines.
//
// State machine:
//
//	Disconnected --connect--> Connecting --broker ok--> Connected
//	Connecting|Connected --error|close|disconnect--> Disconnected
//
// A connect while Connecting or Connected is ignored. Subscriptions are
// not restored automatically after a reconnect; the entries dropped by the
// last disconnect are kept and can be re-issued with RestoreSubscriptions,
// or from an Options.OnConnected hook.
//
// Clients talk to a session with the Command types and receive Notification
// values; DecodeCommand and EncodeNotification define the JSON wire form.
package bridge
