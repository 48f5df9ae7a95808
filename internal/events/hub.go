package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: longest an event waits in an open batch (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats reports hub throughput since construction. Coalesced counts summary
// events superseded by a newer summary for the same account in one batch.
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Dropped   int64 `json:"dropped"`
	Coalesced int64 `json:"coalesced"`
	Flushed   int64 `json:"flushed"`
	SinkFails int64 `json:"sink_failures"`
}

// Hub batches connection events and fans them out to registered sinks. Emit
// never blocks, since connections emit while holding their own locks.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropLog rate.Sometimes
	closed  atomic.Bool

	pendingDrops atomic.Int64
	accepted     atomic.Int64
	dropped      atomic.Int64
	coalesced    atomic.Int64
	flushed      atomic.Int64
	sinkFails    atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine for sinks and returns a ready Hub.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		events:  make(chan Event, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
		dropLog: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. Invalid events are discarded. When the
// buffer is full the event is dropped and a throttled warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid connection event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		h.dropped.Add(1)
		h.pendingDrops.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("connection events dropped due to backpressure",
				zap.Int64("dropped", h.pendingDrops.Swap(0)))
		})
	}
}

// Stats returns a snapshot of hub counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted:  h.accepted.Load(),
		Dropped:   h.dropped.Load(),
		Coalesced: h.coalesced.Load(),
		Flushed:   h.flushed.Load(),
		SinkFails: h.sinkFails.Load(),
	}
}

// Close drains queued events, flushes and closes sinks, and waits for the
// batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event hub close wait: %w", ctx.Err())
	}
}

// run owns the open batch. The wait window starts with the first event of a
// batch, so a steady trickle cannot postpone delivery indefinitely.
func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	window := time.NewTimer(h.cfg.MaxBatchWait)
	window.Stop()
	defer window.Stop()

	for {
		select {
		case evt := <-h.events:
			if len(batch) == 0 {
				window.Reset(h.cfg.MaxBatchWait)
			}
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				window.Stop()
				batch = h.flush(batch)
			}
		case <-window.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			window.Stop()
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			return
		}
	}
}

// flush hands the coalesced batch to every sink and returns batch emptied for
// reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	out := coalesceSummaries(batch)
	if n := len(batch) - len(out); n > 0 {
		h.coalesced.Add(int64(n))
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := h.deliver(sink, out); err != nil {
			h.sinkFails.Add(1)
			h.logger.Warn("event sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(out)),
				zap.Error(err))
		}
	}
	h.flushed.Add(int64(len(out)))
	return batch[:0]
}

func (h *Hub) deliver(sink Sink, batch []Event) error {
	ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
	defer cancel()
	return sink.Consume(ctx, batch)
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("event sink close failed", zap.Error(err))
		}
	}
}

// coalesceSummaries returns a new slice where a SUMMARY event is dropped when
// a later SUMMARY for the same account follows with no other event for that
// account in between. Summaries are snapshots, so only the newest of a run
// carries information. Order is otherwise preserved.
func coalesceSummaries(batch []Event) []Event {
	out := make([]Event, 0, len(batch))
	// index in out of the account's latest event, if it is a SUMMARY
	lastSummary := make(map[uuid.UUID]int)
	for _, evt := range batch {
		if evt.Kind != KindSummary {
			delete(lastSummary, evt.AccountID)
			out = append(out, evt)
			continue
		}
		if idx, ok := lastSummary[evt.AccountID]; ok {
			out[idx].Kind = "" // superseded
		}
		lastSummary[evt.AccountID] = len(out)
		out = append(out, evt)
	}
	kept := out[:0]
	for _, evt := range out {
		if evt.Kind != "" {
			kept = append(kept, evt)
		}
	}
	return kept
}
