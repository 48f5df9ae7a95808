// Package events provides the event primitives, non-blocking hub, and emitter
// interfaces that connections use to report lifecycle changes. The hub batches
// events on a background goroutine and fans them out to pluggable sinks such as
// Prometheus metrics, the status history store, or Pub/Sub.
package events
