// Package telemetry turns the stream of inbound publications into the two
// views a bridge client reads: a bounded newest-first history log and a
// per-device table of shallow-merged JSON fields.
//
// Nothing in this package locks. A Router and the HistoryLog and Projector
// it feeds belong to exactly one bridge session and are only touched from
// that session's event loop.
package telemetry
