// Package export forwards routed publications to external stores.
//
// A Pipeline sits between the bridge sessions and a set of Sinks. Sessions
// offer publications without blocking; when the bounded queue is full the
// publication is dropped and counted. A single worker drains the queue and
// hands each publication to every sink in turn.
//
// Sinks:
//   - InfluxSink writes numeric device fields as InfluxDB points.
//   - RedisSink mirrors the latest device fields into a Redis hash per device.
//   - KafkaSink streams every publication to a Kafka topic keyed by device id.
package export
