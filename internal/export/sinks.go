package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/fleet-bridge/internal/infrastructure/logging"
)

// OpenSinks connects every sink enabled in cfg. If any enabled sink fails,
// the ones already opened are closed and the error is returned.
func OpenSinks(ctx context.Context, cfg *config.Config, logger *logging.Logger) ([]Sink, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var sinks []Sink
	fail := func(err error) ([]Sink, error) {
		for _, s := range sinks {
			err = errors.Join(err, s.Close())
		}
		return nil, err
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(ctx, cfg.InfluxDB, func(err error) {
			logger.Error("InfluxDB write error", "error", err)
		})
		if err != nil {
			return fail(fmt.Errorf("connecting to InfluxDB: %w", err))
		}
		sinks = append(sinks, NewInfluxSink(client))
		logger.Info("InfluxDB sink connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	if cfg.Export.Redis.Enabled {
		sink, err := NewRedisSink(ctx, cfg.Export.Redis)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
		logger.Info("Redis sink connected", "addr", cfg.Export.Redis.Addr)
	}

	if cfg.Export.Kafka.Enabled {
		sink, err := NewKafkaSink(cfg.Export.Kafka, logger)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}

	return sinks, nil
}
