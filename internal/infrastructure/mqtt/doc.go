// Package mqtt provides the broker link used by bridge sessions.
//
// This package manages:
//   - ConnectionConfig, the client-facing description of a broker connection
//   - Link, one paho connection per session with asynchronous acknowledgements
//   - Classification of transport failures into human-readable causes
//   - TestConnect, a short-lived connectivity probe
//   - Topic builders and filter validation for the fleet namespace
//
// # Architecture
//
//	Browser ↔ WebSocket ↔ Bridge Session ↔ Link ↔ MQTT Broker ↔ Drones / Docks
//
// A Link never reconnects on its own. Connection loss is reported once as
// EventConnectionLost and the owner decides what to do next.
//
// # Usage
//
//	link := mqtt.NewLink(cfg.WithDefaults(), func(ev mqtt.Event) {
//	    inbox <- ev
//	})
//	link.Connect()
//	defer link.Close()
//
//	// after EventConnected:
//	_ = link.Subscribe("thing/product/1581F5BKD22/osd", 0)
package mqtt
