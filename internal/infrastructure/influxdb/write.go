package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement every telemetry point is written to.
const Measurement = "device_telemetry"

// WriteTelemetry writes the numeric and boolean entries of fields as one
// point tagged with the device id and source topic. Nothing is written when
// no entry qualifies.
func (c *Client) WriteTelemetry(deviceID, topic string, fields map[string]any, at time.Time) {
	if c.closed.Load() {
		return
	}
	point, ok := TelemetryPoint(deviceID, topic, fields, at)
	if !ok {
		return
	}
	c.writeAPI.WritePoint(point)
}

// TelemetryPoint builds the point WriteTelemetry would send.
// ok is false when fields holds nothing numeric.
func TelemetryPoint(deviceID, topic string, fields map[string]any, at time.Time) (*write.Point, bool) {
	values := NumericFields(fields)
	if len(values) == 0 {
		return nil, false
	}
	tags := map[string]string{"device_id": deviceID, "topic": topic}
	return write.NewPoint(Measurement, tags, values, at), true
}

// NumericFields keeps the entries of fields that InfluxDB can aggregate.
// JSON numbers decode as float64; integer and bool kinds are accepted too.
func NumericFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch n := v.(type) {
		case float64, float32, bool:
			out[k] = n
		case int:
			out[k] = int64(n)
		case int64:
			out[k] = n
		}
	}
	return out
}
