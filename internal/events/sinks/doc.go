// Package sinks implements concrete connection event consumers such as
// Prometheus, repository-backed status history, Pub/Sub fan-out and structured
// logging. Each sink satisfies the events.Sink interface and is safe for
// repeated Consume/Close cycles.
package sinks
