// Package servicecall issues request/reply service calls to fleet devices.
//
// A call publishes the envelope
//
//	{"tid": "...", "bid": "...", "timestamp": 1767225600000, "method": "live_start", "data": {...}}
//
// on <namespace>/<target>/services, optionally after subscribing to
// <namespace>/<target>/services_reply. The returned Call carries the
// correlation ids; matching the device's reply is left to the caller
// (see ParseReply and Matches). No table of outstanding calls is kept.
package servicecall
