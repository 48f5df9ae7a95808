// Package cmd defines the accountlink CLI.
//
// Architecture overview:
//   - Pool: internal/pool keeps one Connection per account, created on first
//     use and registered with an AuthWatchdog consumer.
//   - Connection: internal/connection serializes connect/disconnect through a
//     per-connection task queue, owns the Core while connected and fans status,
//     busy, error, message and summary updates out to consumers on a single
//     delivery goroutine (internal/dispatcher).
//   - Summaries: internal/progress tracks progress objects per connection and
//     publishes one throttled summary, grouping operations of the same type.
//   - Events: every state change is also emitted to internal/events, which
//     batches them for Prometheus, the status history store (memory or
//     Postgres), structured logs and optionally Pub/Sub.
//   - Cores come from internal/core/sim, an in-process simulator driven by the
//     accounts section of the config.
//
// Commands:
//   - serve: run the HTTP API until SIGINT/SIGTERM.
//   - status: print the configured accounts, optionally connecting first.
//   - demo: connect every account and play a scripted busy/upload sequence.
package cmd
