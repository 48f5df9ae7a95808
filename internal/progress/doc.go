// Package progress models cancellable units of work and aggregates many of
// them into a single throttled Summary. Progress objects report unit counts,
// a description and an operation type; a Summarizer tracks them, groups
// same-type operations into messages such as "Uploading 3 files…", and lets
// callers push fallback and priority summaries that temporarily replace the
// computed one.
package progress
