// Package device keeps the fleet device registry.
//
// Devices are registered by serial number. One device may be marked current
// and one the gateway; Target maps a device reference onto the serial that
// service calls are published to, routing aircraft through their dock.
package device
