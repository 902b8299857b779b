package export

import (
	"context"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleet-bridge/internal/telemetry"
)

// pointWriter is the part of *influxdb.Client the sink uses.
type pointWriter interface {
	WriteTelemetry(deviceID, topic string, fields map[string]any, at time.Time)
	Close() error
}

// InfluxSink writes the numeric fields of device publications as points.
// Publications without a device id or JSON object payload are skipped.
type InfluxSink struct {
	client pointWriter
}

// NewInfluxSink wraps a connected client. The sink owns it from then on.
func NewInfluxSink(client *influxdb.Client) *InfluxSink {
	return &InfluxSink{client: client}
}

func (s *InfluxSink) Name() string { return "influxdb" }

func (s *InfluxSink) Export(_ context.Context, pub telemetry.Publication) error {
	if pub.DeviceID == "" || len(pub.Fields) == 0 {
		return nil
	}
	s.client.WriteTelemetry(pub.DeviceID, pub.Record.Topic, pub.Fields, pub.At)
	return nil
}

func (s *InfluxSink) Close() error { return s.client.Close() }
