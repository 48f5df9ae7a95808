// Package dispatcher provides the delivery context: a single goroutine that
// runs posted callbacks one at a time in the order they were posted.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher executes posted functions sequentially on one goroutine. Post
// never blocks, so it is safe to call while holding locks.
type Dispatcher struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	stopped bool
	once    sync.Once
}

var (
	defaultOnce sync.Once
	defaultDisp *Dispatcher
)

// Default returns the process-wide dispatcher, starting it on first use.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		defaultDisp = New(nil)
	})
	return defaultDisp
}

// New creates a Dispatcher and starts its goroutine.
func New(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

// Post schedules fn to run after every previously posted function. Calls
// after Close are ignored.
func (d *Dispatcher) Post(fn func()) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, fn)
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until every function posted before the call has run. It must
// not be called from a posted function.
func (d *Dispatcher) Wait(ctx context.Context) error {
	flushed := make(chan struct{})
	d.Post(func() { close(flushed) })
	select {
	case <-flushed:
		return nil
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher wait: %w", ctx.Err())
	}
}

// Close runs what is already queued, then stops the goroutine.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stopCh)
	})
	select {
	case <-d.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		d.drain()
		select {
		case <-d.wake:
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		d.mu.Lock()
		if len(d.pending) == 0 {
			d.mu.Unlock()
			return
		}
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()
		for _, fn := range batch {
			d.invoke(fn)
		}
	}
}

func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("delivery callback panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}
