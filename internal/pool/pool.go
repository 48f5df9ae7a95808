// Package pool keeps one Connection per account for the whole process.
package pool

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/events"
	"github.com/JakeFAU/accountlink/internal/progress"
)

// Config carries the collaborators every pooled Connection is built with.
//   - SummarizerThrottle: passed to each connection's Summarizer (see progress.Config).
//   - OnAuthFailure: optional callback fired by each connection's AuthWatchdog.
type Config struct {
	Provider           connection.CoreProvider
	Delivery           connection.Executor
	Emitter            events.Emitter
	Logger             *zap.Logger
	Clock              connection.Clock
	SummarizerThrottle time.Duration
	KeepAliveDelay     time.Duration
	BaseContext        context.Context
	OnAuthFailure      func(*connection.Connection, *connection.AuthFailure)
}

type entry struct {
	conn     *connection.Connection
	watchdog *connection.AuthWatchdog
}

// Pool is a registry of Connections keyed by account. Connections are
// created on first request and live until Reset.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	registry map[uuid.UUID]entry
}

// New constructs an empty Pool.
func New(cfg Config) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger
	return &Pool{
		cfg:      cfg,
		logger:   logger,
		registry: make(map[uuid.UUID]entry),
	}
}

// Connection returns the Connection for accountID, creating it on first use.
// A new Connection starts with an AuthWatchdog registered as its first consumer.
func (p *Pool) Connection(accountID uuid.UUID) *connection.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.registry[accountID]; ok {
		return e.conn
	}
	conn := connection.New(accountID, connection.Config{
		Provider: p.cfg.Provider,
		Summarizer: progress.NewSummarizer(progress.Config{
			Throttle: p.cfg.SummarizerThrottle,
			Delivery: p.cfg.Delivery,
			Logger:   p.cfg.Logger,
		}),
		Delivery:       p.cfg.Delivery,
		Emitter:        p.cfg.Emitter,
		Logger:         p.cfg.Logger,
		Clock:          p.cfg.Clock,
		KeepAliveDelay: p.cfg.KeepAliveDelay,
		BaseContext:    p.cfg.BaseContext,
	})
	watchdog := connection.NewAuthWatchdog(p.cfg.Logger, p.cfg.OnAuthFailure)
	conn.AddAsync(watchdog.Consumer(), nil)
	p.registry[accountID] = entry{conn: conn, watchdog: watchdog}
	p.logger.Debug("connection created", zap.String("account_id", accountID.String()))
	return conn
}

// Lookup returns the Connection for accountID without creating one.
func (p *Pool) Lookup(accountID uuid.UUID) (*connection.Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.registry[accountID]
	return e.conn, ok
}

// Watchdog returns the AuthWatchdog attached to accountID's Connection.
func (p *Pool) Watchdog(accountID uuid.UUID) (*connection.AuthWatchdog, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.registry[accountID]
	return e.watchdog, ok
}

// Connections returns every Connection ordered by account ID.
func (p *Pool) Connections() []*connection.Connection {
	p.mu.Lock()
	out := make([]*connection.Connection, 0, len(p.registry))
	for _, e := range p.registry {
		out = append(out, e.conn)
	}
	p.mu.Unlock()
	slices.SortFunc(out, func(a, b *connection.Connection) int {
		return strings.Compare(a.AccountID().String(), b.AccountID().String())
	})
	return out
}

// ActiveConnections returns the Connections whose status is neither noCore nor offline.
func (p *Pool) ActiveConnections() []*connection.Connection {
	return slices.DeleteFunc(p.Connections(), func(c *connection.Connection) bool {
		return !c.Status().Active()
	})
}

// DisconnectAll disconnects every Connection concurrently and returns once
// all have finished or ctx ends.
func (p *Pool) DisconnectAll(ctx context.Context) error {
	conns := p.Connections()
	if len(conns) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		g.Go(func() error {
			if err := conn.Disconnect(gctx, nil); err != nil {
				return fmt.Errorf("disconnect %s: %w", conn.AccountID(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("disconnect all: %w", err)
	}
	p.logger.Info("all connections disconnected", zap.Int("count", len(conns)))
	return nil
}

// DisconnectAllAsync disconnects every Connection and calls completion once
// all have finished. With no connections completion runs immediately.
func (p *Pool) DisconnectAllAsync(completion func()) {
	conns := p.Connections()
	if len(conns) == 0 {
		if completion != nil {
			completion()
		}
		return
	}
	var remaining atomic.Int64
	remaining.Store(int64(len(conns)))
	for _, conn := range conns {
		conn.DisconnectAsync(nil, func(error) {
			if remaining.Add(-1) == 0 && completion != nil {
				completion()
			}
		})
	}
}

// Reset disconnects everything and empties the registry.
func (p *Pool) Reset(ctx context.Context) error {
	if err := p.DisconnectAll(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.registry = make(map[uuid.UUID]entry)
	p.mu.Unlock()
	return nil
}

var shared atomic.Pointer[Pool]

// SetShared installs the process-wide Pool.
func SetShared(p *Pool) {
	shared.Store(p)
}

// Shared returns the process-wide Pool, or nil before SetShared.
func Shared() *Pool {
	return shared.Load()
}
