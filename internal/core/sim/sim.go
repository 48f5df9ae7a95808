// Package sim provides an in-process CoreProvider whose Cores are driven by
// hand. The CLI demo and tests use it in place of a real sync engine.
package sim

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/progress"
)

// Option configures a Provider.
type Option func(*Provider)

// WithLatency delays every RequestCore by d.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithLogger sets the provider logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithInitialReachability sets the reachability new Cores start with.
func WithInitialReachability(r connection.Reachability, desc string) Option {
	return func(p *Provider) {
		p.initialReach = r
		p.initialDesc = desc
	}
}

// Provider hands out one simulated Core per account.
type Provider struct {
	latency      time.Duration
	logger       *zap.Logger
	initialReach connection.Reachability
	initialDesc  string

	mu       sync.Mutex
	cores    map[uuid.UUID]*Core
	failures map[uuid.UUID]error
	requests map[uuid.UUID]int
	returns  map[uuid.UUID]int
}

var _ connection.CoreProvider = (*Provider)(nil)

// NewProvider constructs a Provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		logger:       zap.NewNop(),
		initialReach: connection.ReachabilityOnline,
		cores:        make(map[uuid.UUID]*Core),
		failures:     make(map[uuid.UUID]error),
		requests:     make(map[uuid.UUID]int),
		returns:      make(map[uuid.UUID]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetFailure makes every RequestCore for id fail with err until cleared with nil.
func (p *Provider) SetFailure(id uuid.UUID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, id)
		return
	}
	p.failures[id] = err
}

// Core returns the simulated Core for id, creating it if needed.
func (p *Provider) Core(id uuid.UUID) *Core {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.coreLocked(id)
}

// Requests reports how many times a Core was requested for id.
func (p *Provider) Requests(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[id]
}

// Returns reports how many times a Core was returned for id.
func (p *Provider) Returns(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.returns[id]
}

// RequestCore implements connection.CoreProvider.
func (p *Provider) RequestCore(ctx context.Context, id uuid.UUID) (connection.Core, error) {
	p.mu.Lock()
	p.requests[id]++
	failure := p.failures[id]
	p.mu.Unlock()

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("request core: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if failure != nil {
		p.logger.Debug("simulated core request failed", zap.String("account_id", id.String()), zap.Error(failure))
		return nil, failure
	}
	core := p.Core(id)
	core.setCheckedOut(true)
	return core, nil
}

// ReturnCore implements connection.CoreProvider.
func (p *Provider) ReturnCore(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	p.returns[id]++
	core, ok := p.cores[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no core checked out for %s", id)
	}
	core.setCheckedOut(false)
	return nil
}

func (p *Provider) coreLocked(id uuid.UUID) *Core {
	core, ok := p.cores[id]
	if !ok {
		core = newCore(id, p.initialReach, p.initialDesc)
		p.cores[id] = core
	}
	return core
}

// Core is a hand-driven connection.Core.
type Core struct {
	id uuid.UUID

	mu          sync.Mutex
	delegate    connection.Delegate
	reach       connection.Reachability
	reachDesc   string
	reachObs    map[int]func(connection.Reachability, string)
	msgObs      map[int]func([]connection.Message, []connection.MessageGroup)
	nextObs     int
	messages    []connection.Message
	presenters  []connection.MessagePresenter
	keepAlives  int
	checkedOut  bool
	keepAliveOn bool
}

var _ connection.Core = (*Core)(nil)

func newCore(id uuid.UUID, r connection.Reachability, desc string) *Core {
	return &Core{
		id:        id,
		reach:     r,
		reachDesc: desc,
		reachObs:  make(map[int]func(connection.Reachability, string)),
		msgObs:    make(map[int]func([]connection.Message, []connection.MessageGroup)),
	}
}

// SetDelegate implements connection.Core.
func (c *Core) SetDelegate(d connection.Delegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// ObserveReachability implements connection.Core.
func (c *Core) ObserveReachability(fn func(connection.Reachability, string)) func() {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.reachObs[id] = fn
	r, desc := c.reach, c.reachDesc
	c.mu.Unlock()
	fn(r, desc)
	return func() {
		c.mu.Lock()
		delete(c.reachObs, id)
		c.mu.Unlock()
	}
}

// ObserveMessages implements connection.Core.
func (c *Core) ObserveMessages(fn func([]connection.Message, []connection.MessageGroup)) func() {
	c.mu.Lock()
	c.nextObs++
	id := c.nextObs
	c.msgObs[id] = fn
	msgs := slices.Clone(c.messages)
	c.mu.Unlock()
	if len(msgs) > 0 {
		fn(msgs, nil)
	}
	return func() {
		c.mu.Lock()
		delete(c.msgObs, id)
		c.mu.Unlock()
	}
}

// AddMessagePresenter implements connection.Core.
func (c *Core) AddMessagePresenter(p connection.MessagePresenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.presenters, p) {
		c.presenters = append(c.presenters, p)
	}
}

// RemoveMessagePresenter implements connection.Core.
func (c *Core) RemoveMessagePresenter(p connection.MessagePresenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenters = slices.DeleteFunc(c.presenters, func(q connection.MessagePresenter) bool { return q == p })
}

// StartKeepAlive implements connection.Core.
func (c *Core) StartKeepAlive() func() {
	c.mu.Lock()
	c.keepAlives++
	c.keepAliveOn = true
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.keepAliveOn = false
			c.mu.Unlock()
		})
	}
}

// SetReachability changes the transport state and notifies observers.
func (c *Core) SetReachability(r connection.Reachability, desc string) {
	c.mu.Lock()
	c.reach, c.reachDesc = r, desc
	observers := make([]func(connection.Reachability, string), 0, len(c.reachObs))
	for _, fn := range c.reachObs {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	for _, fn := range observers {
		fn(r, desc)
	}
}

// PostMessage adds or replaces a message, shows it on every presenter and
// notifies message observers.
func (c *Core) PostMessage(m connection.Message) {
	if m.AccountID == uuid.Nil {
		m.AccountID = c.id
	}
	c.mu.Lock()
	idx := slices.IndexFunc(c.messages, func(x connection.Message) bool { return x.ID == m.ID })
	if idx >= 0 {
		c.messages[idx] = m
	} else {
		c.messages = append(c.messages, m)
	}
	presenters := slices.Clone(c.presenters)
	c.mu.Unlock()
	for _, p := range presenters {
		p.PresentMessage(m)
	}
	c.notifyMessages()
}

// ResolveMessage marks the message with id resolved.
func (c *Core) ResolveMessage(id string) {
	c.mu.Lock()
	for i := range c.messages {
		if c.messages[i].ID == id {
			c.messages[i].Resolved = true
		}
	}
	c.mu.Unlock()
	c.notifyMessages()
}

// RaiseError reports err to the delegate.
func (c *Core) RaiseError(err error, issue *connection.Issue) {
	if d := c.currentDelegate(); d != nil {
		d.HandleError(err, issue)
	}
}

// Busy reports a busy operation to the delegate; nil ends it.
func (c *Core) Busy(p *progress.Progress) {
	if d := c.currentDelegate(); d != nil {
		d.HandleBusy(p)
	}
}

// Presenters reports how many presenters are installed.
func (c *Core) Presenters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.presenters)
}

// KeepAliveActive reports whether a keep-alive is running.
func (c *Core) KeepAliveActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAliveOn
}

// KeepAliveStarts reports how many times a keep-alive was started.
func (c *Core) KeepAliveStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlives
}

// CheckedOut reports whether the Core is currently handed out.
func (c *Core) CheckedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkedOut
}

// HasDelegate reports whether a delegate is installed.
func (c *Core) HasDelegate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate != nil
}

func (c *Core) setCheckedOut(v bool) {
	c.mu.Lock()
	c.checkedOut = v
	c.mu.Unlock()
}

func (c *Core) currentDelegate() connection.Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delegate
}

func (c *Core) notifyMessages() {
	c.mu.Lock()
	msgs := slices.Clone(c.messages)
	observers := make([]func([]connection.Message, []connection.MessageGroup), 0, len(c.msgObs))
	for _, fn := range c.msgObs {
		observers = append(observers, fn)
	}
	c.mu.Unlock()
	for _, fn := range observers {
		fn(msgs, nil)
	}
}
