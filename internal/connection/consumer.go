package connection

import (
	"sync"
	"weak"

	"github.com/JakeFAU/accountlink/internal/progress"
)

// BusyHandler is told about the operation that made the Core busy.
type BusyHandler func(c *Connection, p *progress.Progress)

// StatusObserver is told about status changes. initial is true exactly once,
// for the delivery made on registration.
type StatusObserver func(c *Connection, status Status, initial bool)

// CoreErrorHandler may claim a Core error by returning true, which stops the
// error from reaching later consumers.
type CoreErrorHandler func(c *Connection, err error, issue *Issue) bool

// ProgressUpdateHandler receives the summary shown for the connection.
// autoCollapse signals that nothing needs to stay on screen.
type ProgressUpdateHandler func(c *Connection, summary *progress.Summary, autoCollapse bool)

// MessageUpdateHandler receives the connection's unresolved messages.
type MessageUpdateHandler func(c *Connection, messages []Message, groups []MessageGroup)

// Owner is a non-owning reference to whatever a Consumer works for. Once the
// owner is gone the Consumer is skipped and dropped lazily.
type Owner interface {
	Alive() bool
}

type weakOwner[T any] struct {
	p weak.Pointer[T]
}

func (w weakOwner[T]) Alive() bool {
	return w.p.Value() != nil
}

// WeakOwner returns an Owner that does not keep ptr reachable.
func WeakOwner[T any](ptr *T) Owner {
	return weakOwner[T]{p: weak.Make(ptr)}
}

// Consumer is a registered bundle of callbacks. The message presenter and
// summary handler are fixed at construction; the remaining slots may be
// swapped at any time.
type Consumer struct {
	owner            Owner
	messagePresenter MessagePresenter
	summaryHandler   progress.Handler

	mu               sync.RWMutex
	busyHandler      BusyHandler
	statusObserver   StatusObserver
	coreErrorHandler CoreErrorHandler
	progressHandler  ProgressUpdateHandler
	messageHandler   MessageUpdateHandler
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithOwner ties the consumer's lifetime to owner.
func WithOwner(owner Owner) ConsumerOption {
	return func(c *Consumer) { c.owner = owner }
}

// WithMessagePresenter installs a presenter on the Core while connected.
func WithMessagePresenter(p MessagePresenter) ConsumerOption {
	return func(c *Consumer) { c.messagePresenter = p }
}

// WithSummaryHandler subscribes fn to the connection's raw summarizer output.
func WithSummaryHandler(fn progress.Handler) ConsumerOption {
	return func(c *Consumer) { c.summaryHandler = fn }
}

// WithBusyHandler sets the initial busy handler.
func WithBusyHandler(fn BusyHandler) ConsumerOption {
	return func(c *Consumer) { c.busyHandler = fn }
}

// WithStatusObserver sets the initial status observer.
func WithStatusObserver(fn StatusObserver) ConsumerOption {
	return func(c *Consumer) { c.statusObserver = fn }
}

// WithCoreErrorHandler sets the initial core error handler.
func WithCoreErrorHandler(fn CoreErrorHandler) ConsumerOption {
	return func(c *Consumer) { c.coreErrorHandler = fn }
}

// WithProgressUpdateHandler sets the initial progress update handler.
func WithProgressUpdateHandler(fn ProgressUpdateHandler) ConsumerOption {
	return func(c *Consumer) { c.progressHandler = fn }
}

// WithMessageUpdateHandler sets the initial message update handler.
func WithMessageUpdateHandler(fn MessageUpdateHandler) ConsumerOption {
	return func(c *Consumer) { c.messageHandler = fn }
}

// NewConsumer builds a Consumer from opts.
func NewConsumer(opts ...ConsumerOption) *Consumer {
	c := &Consumer{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Alive reports whether the consumer's owner still exists. Consumers
// without an owner live until removed.
func (c *Consumer) Alive() bool {
	return c.owner == nil || c.owner.Alive()
}

// MessagePresenter returns the fixed presenter, if any.
func (c *Consumer) MessagePresenter() MessagePresenter { return c.messagePresenter }

// SummaryHandler returns the fixed summary handler, if any.
func (c *Consumer) SummaryHandler() progress.Handler { return c.summaryHandler }

// SetBusyHandler replaces the busy handler.
func (c *Consumer) SetBusyHandler(fn BusyHandler) {
	c.mu.Lock()
	c.busyHandler = fn
	c.mu.Unlock()
}

// BusyHandler returns the current busy handler.
func (c *Consumer) BusyHandler() BusyHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.busyHandler
}

// SetStatusObserver replaces the status observer.
func (c *Consumer) SetStatusObserver(fn StatusObserver) {
	c.mu.Lock()
	c.statusObserver = fn
	c.mu.Unlock()
}

// StatusObserver returns the current status observer.
func (c *Consumer) StatusObserver() StatusObserver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.statusObserver
}

// SetCoreErrorHandler replaces the core error handler.
func (c *Consumer) SetCoreErrorHandler(fn CoreErrorHandler) {
	c.mu.Lock()
	c.coreErrorHandler = fn
	c.mu.Unlock()
}

// CoreErrorHandler returns the current core error handler.
func (c *Consumer) CoreErrorHandler() CoreErrorHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coreErrorHandler
}

// SetProgressUpdateHandler replaces the progress update handler.
func (c *Consumer) SetProgressUpdateHandler(fn ProgressUpdateHandler) {
	c.mu.Lock()
	c.progressHandler = fn
	c.mu.Unlock()
}

// ProgressUpdateHandler returns the current progress update handler.
func (c *Consumer) ProgressUpdateHandler() ProgressUpdateHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progressHandler
}

// SetMessageUpdateHandler replaces the message update handler.
func (c *Consumer) SetMessageUpdateHandler(fn MessageUpdateHandler) {
	c.mu.Lock()
	c.messageHandler = fn
	c.mu.Unlock()
}

// MessageUpdateHandler returns the current message update handler.
func (c *Consumer) MessageUpdateHandler() MessageUpdateHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messageHandler
}
