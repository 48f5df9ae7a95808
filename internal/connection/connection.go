// Package connection manages the lifecycle of one account's Core: acquiring
// and returning it through a CoreProvider, tracking its status, and fanning
// status, busy, error, progress and message events out to registered
// consumers on a single delivery context.
package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/clock/system"
	"github.com/JakeFAU/accountlink/internal/dispatcher"
	"github.com/JakeFAU/accountlink/internal/events"
	"github.com/JakeFAU/accountlink/internal/progress"
	"github.com/JakeFAU/accountlink/internal/taskqueue"
)

// DefaultKeepAliveDelay is how long after connecting the keep-alive starts
// if the Core has not reported itself online earlier.
const DefaultKeepAliveDelay = 10 * time.Second

const tracerName = "github.com/JakeFAU/accountlink/internal/connection"

// Executor runs posted callbacks in order on the delivery context. Post must
// not block.
type Executor interface {
	Post(fn func())
}

// Clock abstracts time for event timestamps.
type Clock interface {
	Now() time.Time
}

// Config wires a Connection to its collaborators.
//   - Provider: source of Cores (required for Connect).
//   - Summarizer: progress aggregation; defaults to progress.Shared(accountID).
//   - Delivery: delivery context; defaults to dispatcher.Default().
//   - Emitter: optional sink for lifecycle events.
//   - KeepAliveDelay: zero selects DefaultKeepAliveDelay.
//   - BaseContext: parent context for provider calls.
type Config struct {
	Provider       CoreProvider
	Summarizer     *progress.Summarizer
	Delivery       Executor
	Emitter        events.Emitter
	Logger         *zap.Logger
	Clock          Clock
	KeepAliveDelay time.Duration
	BaseContext    context.Context
}

// Connection owns at most one Core for one account. Lifecycle operations are
// serialized on a private task queue; observable callbacks are posted to the
// delivery context in the order the underlying changes happened.
type Connection struct {
	accountID      uuid.UUID
	provider       CoreProvider
	summarizer     *progress.Summarizer
	delivery       Executor
	emitter        events.Emitter
	logger         *zap.Logger
	clock          Clock
	tracer         trace.Tracer
	keepAliveDelay time.Duration
	baseCtx        context.Context
	queue          *taskqueue.Queue

	mu                sync.Mutex
	status            Status
	richStatus        *RichStatus
	core              Core
	session           uint64
	reachability      Reachability
	consumers         []*Consumer
	connectionSummary *progress.Summary
	stopReachability  func()
	stopMessages      func()
	stopKeepAlive     func()
	keepAliveActive   bool
	keepAliveTimer    *time.Timer
}

var _ Delegate = (*Connection)(nil)

// New creates a disconnected Connection for accountID.
func New(accountID uuid.UUID, cfg Config) *Connection {
	if cfg.Summarizer == nil {
		cfg.Summarizer = progress.Shared(accountID)
	}
	if cfg.Delivery == nil {
		cfg.Delivery = dispatcher.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.KeepAliveDelay <= 0 {
		cfg.KeepAliveDelay = DefaultKeepAliveDelay
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	c := &Connection{
		accountID:      accountID,
		provider:       cfg.Provider,
		summarizer:     cfg.Summarizer,
		delivery:       cfg.Delivery,
		emitter:        cfg.Emitter,
		logger:         cfg.Logger.With(zap.String("account_id", accountID.String())),
		clock:          cfg.Clock,
		tracer:         otel.Tracer(tracerName),
		keepAliveDelay: cfg.KeepAliveDelay,
		baseCtx:        cfg.BaseContext,
		queue:          taskqueue.New(),
		status:         StatusNoCore,
	}
	c.summarizer.AddObserver(c, c.summaryChanged)
	return c
}

// AccountID returns the account this connection serves.
func (c *Connection) AccountID() uuid.UUID { return c.accountID }

// Summarizer returns the connection's progress summarizer.
func (c *Connection) Summarizer() *progress.Summarizer { return c.summarizer }

// Status returns the current status.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// RichStatus returns a copy of the rich status, or nil when collapsed.
func (c *Connection) RichStatus() *RichStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.richStatus == nil {
		return nil
	}
	rs := *c.richStatus
	return &rs
}

// Core returns the held Core, or nil when disconnected.
func (c *Connection) Core() Core {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.core
}

// Consumers returns the live consumers in registration order.
func (c *Connection) Consumers() []*Consumer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveConsumersLocked()
}

// ConnectAsync acquires a Core unless one is already held. completion
// receives nil on success or an error wrapping ErrCoreAcquisition. consumer
// only identifies the requester in logs and traces and may be nil.
func (c *Connection) ConnectAsync(consumer *Consumer, completion func(error)) {
	c.queue.Async(func(done func()) {
		c.mu.Lock()
		if c.core != nil {
			c.mu.Unlock()
			finish(completion, done, nil)
			return
		}
		if c.provider == nil {
			c.mu.Unlock()
			finish(completion, done, fmt.Errorf("%w: %w", ErrCoreAcquisition, ErrNilProvider))
			return
		}
		c.session++
		session := c.session
		c.transitionLocked(StatusConnecting)
		c.mu.Unlock()

		go func() {
			finish(completion, done, c.acquire(session, consumer != nil))
		}()
	})
}

// Connect is the blocking form of ConnectAsync. ctx bounds the wait only; an
// acquisition already under way runs to completion.
func (c *Connection) Connect(ctx context.Context, consumer *Consumer) error {
	return wait(ctx, func(completion func(error)) { c.ConnectAsync(consumer, completion) })
}

// DisconnectAsync returns the Core, if any, and moves to noCore. Provider
// errors while returning the Core are logged, never reported.
func (c *Connection) DisconnectAsync(consumer *Consumer, completion func(error)) {
	c.queue.Async(func(done func()) {
		c.mu.Lock()
		core := c.core
		if core == nil {
			c.mu.Unlock()
			finish(completion, done, nil)
			return
		}
		c.session++
		consumers := c.liveConsumersLocked()
		stops := []func(){c.stopReachability, c.stopMessages, c.stopKeepAlive}
		c.stopReachability, c.stopMessages, c.stopKeepAlive = nil, nil, nil
		c.keepAliveActive = false
		if c.keepAliveTimer != nil {
			c.keepAliveTimer.Stop()
			c.keepAliveTimer = nil
		}
		connSummary := c.connectionSummary
		c.connectionSummary = nil
		c.mu.Unlock()

		for _, stop := range stops {
			if stop != nil {
				stop()
			}
		}
		for _, consumer := range consumers {
			if p := consumer.MessagePresenter(); p != nil {
				core.RemoveMessagePresenter(p)
			}
		}
		if connSummary != nil {
			c.summarizer.PopPrioritySummary(connSummary)
		}
		core.SetDelegate(nil)

		go func() {
			c.release(consumer != nil)
			c.mu.Lock()
			c.core = nil
			c.transitionLocked(StatusNoCore)
			c.richStatus = nil
			c.mu.Unlock()
			finish(completion, done, nil)
		}()
	})
}

// Disconnect is the blocking form of DisconnectAsync.
func (c *Connection) Disconnect(ctx context.Context, consumer *Consumer) error {
	return wait(ctx, func(completion func(error)) { c.DisconnectAsync(consumer, completion) })
}

// AddAsync registers consumer. Its status observer receives the status at
// registration time with initial=true before any later change.
func (c *Connection) AddAsync(consumer *Consumer, completion func(error)) {
	if consumer == nil {
		if completion != nil {
			completion(nil)
		}
		return
	}
	c.queue.Async(func(done func()) {
		c.mu.Lock()
		if slices.Contains(c.consumers, consumer) {
			c.mu.Unlock()
			finish(completion, done, nil)
			return
		}
		c.consumers = append(c.consumers, consumer)
		core := c.core
		if obs := consumer.StatusObserver(); obs != nil {
			status := c.status
			c.delivery.Post(func() { obs(c, status, true) })
		}
		c.mu.Unlock()

		if h := consumer.SummaryHandler(); h != nil {
			c.summarizer.AddObserver(consumer, func(s *progress.Summarizer, summary *progress.Summary) {
				c.delivery.Post(func() { h(s, summary) })
			})
		}
		if p := consumer.MessagePresenter(); p != nil && core != nil {
			core.AddMessagePresenter(p)
		}
		finish(completion, done, nil)
	})
}

// Add is the blocking form of AddAsync.
func (c *Connection) Add(ctx context.Context, consumer *Consumer) error {
	return wait(ctx, func(completion func(error)) { c.AddAsync(consumer, completion) })
}

// RemoveAsync unregisters consumer and uninstalls its fixed components.
func (c *Connection) RemoveAsync(consumer *Consumer, completion func(error)) {
	c.queue.Async(func(done func()) {
		c.mu.Lock()
		idx := slices.Index(c.consumers, consumer)
		if idx < 0 {
			c.mu.Unlock()
			finish(completion, done, nil)
			return
		}
		c.consumers = slices.Delete(c.consumers, idx, idx+1)
		core := c.core
		c.mu.Unlock()

		c.summarizer.RemoveObserver(consumer)
		if p := consumer.MessagePresenter(); p != nil && core != nil {
			core.RemoveMessagePresenter(p)
		}
		finish(completion, done, nil)
	})
}

// Remove is the blocking form of RemoveAsync.
func (c *Connection) Remove(ctx context.Context, consumer *Consumer) error {
	return wait(ctx, func(completion func(error)) { c.RemoveAsync(consumer, completion) })
}

// HandleBusy implements Delegate. A non-nil progress marks the Core busy;
// nil reports that the busy operation ended.
func (c *Connection) HandleBusy(p *progress.Progress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.core == nil {
		return
	}
	if p == nil {
		if c.status == StatusBusy {
			c.transitionLocked(c.idleStatusLocked())
		}
		return
	}
	if c.status != StatusAuthenticationError {
		c.transitionLocked(StatusBusy)
		c.richStatus.Busy = p
	}
	for _, consumer := range c.liveConsumersLocked() {
		if h := consumer.BusyHandler(); h != nil {
			c.delivery.Post(func() { h(c, p) })
		}
	}
	c.emitLocked(events.Event{Kind: events.KindBusy, Progress: p.FractionCompleted(), Message: p.Description()})
}

// HandleError implements Delegate. Error handlers are visited in
// registration order until one claims the error.
func (c *Connection) HandleError(err error, issue *Issue) {
	if err == nil && issue == nil {
		return
	}
	if issue != nil && issue.AuthError != nil {
		err = issue.AuthError
		issue = nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	consumers := c.liveConsumersLocked()
	c.delivery.Post(func() {
		for _, consumer := range consumers {
			if h := consumer.CoreErrorHandler(); h != nil && h(c, err, issue) {
				return
			}
		}
		c.logger.Warn("core error not handled by any consumer", zap.Error(err))
	})
	note := ""
	if err != nil {
		note = err.Error()
	} else if issue != nil {
		note = issue.Title
	}
	c.emitLocked(events.Event{Kind: events.KindCoreError, Note: note})
}

// MarkAuthenticationFailed moves a connected Connection into
// authenticationError. Only an explicit reconnect leaves that status.
func (c *Connection) MarkAuthenticationFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.core == nil {
		return
	}
	c.transitionLocked(StatusAuthenticationError)
	c.emitLocked(events.Event{Kind: events.KindAuthFailure, Note: reason})
}

func (c *Connection) acquire(session uint64, withConsumer bool) error {
	ctx, span := c.tracer.Start(c.baseCtx, "connection.connect", trace.WithAttributes(
		attribute.String("account.id", c.accountID.String()),
		attribute.Bool("consumer", withConsumer),
	))
	defer span.End()

	core, err := c.provider.RequestCore(ctx, c.accountID)
	if err == nil && core == nil {
		err = errors.New("provider returned no core")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request core")
		c.logger.Warn("core acquisition failed", zap.Error(err))
		c.mu.Lock()
		c.transitionLocked(StatusNoCore)
		c.richStatus = nil
		c.emitLocked(events.Event{Kind: events.KindConnectFailed, Note: err.Error()})
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrCoreAcquisition, err)
	}

	c.mu.Lock()
	c.core = core
	consumers := c.liveConsumersLocked()
	c.mu.Unlock()

	core.SetDelegate(c)
	for _, consumer := range consumers {
		if p := consumer.MessagePresenter(); p != nil {
			core.AddMessagePresenter(p)
		}
	}
	stopReach := core.ObserveReachability(func(r Reachability, desc string) {
		c.reachabilityChanged(session, r, desc)
	})
	stopMsgs := core.ObserveMessages(func(msgs []Message, groups []MessageGroup) {
		c.messagesChanged(session, msgs, groups)
	})

	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		stopReach()
		stopMsgs()
		return nil
	}
	c.stopReachability, c.stopMessages = stopReach, stopMsgs
	// A busy report during setup already moved the status on.
	if c.status == StatusConnecting {
		c.transitionLocked(StatusCoreAvailable)
		c.transitionLocked(c.idleStatusLocked())
	}
	if !c.keepAliveActive {
		c.keepAliveTimer = time.AfterFunc(c.keepAliveDelay, func() { c.startKeepAlive(session) })
	}
	c.mu.Unlock()
	c.logger.Info("core acquired")
	return nil
}

func (c *Connection) release(withConsumer bool) {
	ctx, span := c.tracer.Start(c.baseCtx, "connection.disconnect", trace.WithAttributes(
		attribute.String("account.id", c.accountID.String()),
		attribute.Bool("consumer", withConsumer),
	))
	defer span.End()
	if err := c.provider.ReturnCore(ctx, c.accountID); err != nil {
		span.RecordError(err)
		c.logger.Warn("return core failed", zap.Error(err))
		return
	}
	c.logger.Info("core returned")
}

func (c *Connection) reachabilityChanged(session uint64, r Reachability, desc string) {
	var summary *progress.Summary
	switch r {
	case ReachabilityOnline:
	case ReachabilityConnecting:
		summary = &progress.Summary{Indeterminate: true, Progress: 1, Count: 1, Message: "Connecting…"}
	default:
		msg := "Contents from cache."
		if desc != "" {
			msg = desc + ". " + msg
		}
		summary = &progress.Summary{Indeterminate: true, Progress: 1, Count: 1, Message: msg}
	}

	c.mu.Lock()
	if c.session != session || c.core == nil {
		c.mu.Unlock()
		return
	}
	c.reachability = r
	previous := c.connectionSummary
	c.connectionSummary = summary
	switch c.status {
	case StatusCoreAvailable, StatusOnline:
		c.transitionLocked(c.idleStatusLocked())
	}
	c.mu.Unlock()

	if summary != nil {
		c.summarizer.PushPrioritySummary(summary)
	}
	if previous != nil {
		c.summarizer.PopPrioritySummary(previous)
	}
	if r == ReachabilityOnline {
		c.startKeepAlive(session)
	}
}

func (c *Connection) messagesChanged(session uint64, msgs []Message, groups []MessageGroup) {
	selected, derived := SelectMessages(c.accountID, msgs)
	var kept []MessageGroup
	for _, g := range groups {
		if picked, _ := SelectMessages(c.accountID, g.Messages); len(picked) > 0 {
			kept = append(kept, MessageGroup{Key: g.Key, Messages: picked})
		}
	}
	if len(kept) == 0 {
		kept = derived
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != session {
		return
	}
	for _, consumer := range c.liveConsumersLocked() {
		if h := consumer.MessageUpdateHandler(); h != nil {
			c.delivery.Post(func() { h(c, selected, kept) })
		}
	}
}

func (c *Connection) summaryChanged(s *progress.Summarizer, summary *progress.Summary) {
	fallback := s.FallbackSummary()
	priority := s.PrioritySummary()
	use := summary
	if summary.Progress == 1 && fallback != nil {
		use = fallback
	}
	if priority != nil {
		use = priority
	}
	autoCollapse := (fallback == nil || use.Count == 0) && priority == nil

	c.mu.Lock()
	defer c.mu.Unlock()
	var busy *progress.Progress
	if c.status == StatusBusy && c.richStatus != nil {
		busy = c.richStatus.Busy
	}
	switch {
	case !autoCollapse:
		c.richStatus = &RichStatus{Status: c.status, Summary: use, Busy: busy}
	case busy != nil:
		c.richStatus = &RichStatus{Status: c.status, Busy: busy}
	default:
		c.richStatus = nil
	}
	for _, consumer := range c.liveConsumersLocked() {
		if h := consumer.ProgressUpdateHandler(); h != nil {
			c.delivery.Post(func() { h(c, use, autoCollapse) })
		}
	}
	c.emitLocked(events.Event{Kind: events.KindSummary, Progress: use.Progress, Message: use.Message})
}

func (c *Connection) startKeepAlive(session uint64) {
	c.mu.Lock()
	core := c.core
	if core == nil || c.session != session || c.keepAliveActive {
		c.mu.Unlock()
		return
	}
	c.keepAliveActive = true
	if c.keepAliveTimer != nil {
		c.keepAliveTimer.Stop()
		c.keepAliveTimer = nil
	}
	c.mu.Unlock()

	stop := core.StartKeepAlive()
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		if stop != nil {
			stop()
		}
		return
	}
	c.stopKeepAlive = stop
	c.mu.Unlock()
	c.logger.Debug("keep-alive started")
}

func (c *Connection) idleStatusLocked() Status {
	if c.reachability == ReachabilityOnline {
		return StatusOnline
	}
	return StatusCoreAvailable
}

// transitionLocked sets the status, refreshes the rich status and, when the
// status actually changed, posts observer notifications and emits an event.
func (c *Connection) transitionLocked(status Status) {
	previous := c.status
	c.status = status
	rs := RichStatus{Status: status}
	if c.richStatus != nil {
		rs = *c.richStatus
		rs.Status = status
	}
	if status != StatusBusy {
		rs.Busy = nil
	}
	c.richStatus = &rs
	if previous == status {
		return
	}
	c.logger.Debug("status changed",
		zap.String("from", string(previous)),
		zap.String("to", string(status)))
	for _, consumer := range c.liveConsumersLocked() {
		if obs := consumer.StatusObserver(); obs != nil {
			c.delivery.Post(func() { obs(c, status, false) })
		}
	}
	c.emitLocked(events.Event{Kind: events.KindStatus, Note: string(previous)})
}

func (c *Connection) liveConsumersLocked() []*Consumer {
	c.consumers = slices.DeleteFunc(c.consumers, func(consumer *Consumer) bool {
		return !consumer.Alive()
	})
	return slices.Clone(c.consumers)
}

func (c *Connection) emitLocked(evt events.Event) {
	if c.emitter == nil {
		return
	}
	evt.AccountID = c.accountID
	evt.TS = c.clock.Now()
	evt.Status = string(c.status)
	c.emitter.Emit(evt)
}

func finish(completion func(error), done func(), err error) {
	if completion != nil {
		completion(err)
	}
	done()
}

func wait(ctx context.Context, start func(completion func(error))) error {
	result := make(chan error, 1)
	start(func(err error) { result <- err })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait for connection: %w", ctx.Err())
	}
}
