// Package influxdb writes projected device telemetry to InfluxDB v2.
//
// Points go through the batched write API of influxdb-client-go, so a slow
// server never stalls the export worker. Batch failures surface through the
// callback passed to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, func(err error) {
//	    log.Error("influx write failed", "error", err)
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("SN001", "thing/product/SN001/osd",
//	    map[string]any{"battery": 87, "height": 120.5}, time.Now())
//
// Only numeric and boolean fields become point fields; strings and nested
// values are skipped since they do not aggregate.
package influxdb
