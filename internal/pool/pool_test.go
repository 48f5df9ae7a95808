package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/core/sim"
	"github.com/JakeFAU/accountlink/internal/dispatcher"
)

func newTestPool(t *testing.T, provider *sim.Provider) (*Pool, *dispatcher.Dispatcher) {
	t.Helper()
	d := dispatcher.New(nil)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return New(Config{
		Provider:           provider,
		Delivery:           d,
		SummarizerThrottle: -1,
		KeepAliveDelay:     time.Hour,
	}), d
}

// TestConnectionIsUniquePerAccount verifies concurrent lookups converge on one Connection.
func TestConnectionIsUniquePerAccount(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, sim.NewProvider())
	id := uuid.New()
	var wg sync.WaitGroup
	got := make([]*connection.Connection, 32)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = p.Connection(id)
		}()
	}
	wg.Wait()
	for _, c := range got {
		require.Same(t, got[0], c)
	}
	require.Len(t, p.Connections(), 1)
	other := p.Connection(uuid.New())
	require.NotSame(t, got[0], other)
}

// TestNewConnectionHasWatchdog verifies every pooled connection starts with the auth watchdog.
func TestNewConnectionHasWatchdog(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, sim.NewProvider())
	id := uuid.New()
	conn := p.Connection(id)
	watchdog, ok := p.Watchdog(id)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		consumers := conn.Consumers()
		return len(consumers) == 1 && consumers[0] == watchdog.Consumer()
	}, time.Second, time.Millisecond)

	_, ok = p.Lookup(uuid.New())
	require.False(t, ok)
}

// TestDisconnectAllEmptyCompletesImmediately verifies the empty pool fast path.
func TestDisconnectAllEmptyCompletesImmediately(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t, sim.NewProvider())
	called := false
	p.DisconnectAllAsync(func() { called = true })
	require.True(t, called)
	require.NoError(t, p.DisconnectAll(context.Background()))
}

// TestDisconnectAllCompletesAfterEveryConnection verifies completion waits for all connections.
func TestDisconnectAllCompletesAfterEveryConnection(t *testing.T) {
	t.Parallel()

	provider := sim.NewProvider(sim.WithLatency(5 * time.Millisecond))
	p, _ := newTestPool(t, provider)
	ctx := context.Background()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, p.Connection(id).Connect(ctx, nil))
	}
	require.Len(t, p.ActiveConnections(), 3)

	done := make(chan []connection.Status, 1)
	p.DisconnectAllAsync(func() {
		var statuses []connection.Status
		for _, id := range ids {
			conn, _ := p.Lookup(id)
			statuses = append(statuses, conn.Status())
		}
		done <- statuses
	})
	select {
	case statuses := <-done:
		for _, s := range statuses {
			require.Equal(t, connection.StatusNoCore, s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect all never completed")
	}
	for _, id := range ids {
		require.Equal(t, 1, provider.Returns(id))
	}
	require.Empty(t, p.ActiveConnections())
}

// TestActiveConnectionsExcludesIdle verifies only connections holding a core count as active.
func TestActiveConnectionsExcludesIdle(t *testing.T) {
	t.Parallel()

	provider := sim.NewProvider()
	p, _ := newTestPool(t, provider)
	ctx := context.Background()
	failing := uuid.New()
	provider.SetFailure(failing, errors.New("no credentials"))

	connected := p.Connection(uuid.New())
	require.NoError(t, connected.Connect(ctx, nil))
	require.ErrorIs(t, p.Connection(failing).Connect(ctx, nil), connection.ErrCoreAcquisition)
	p.Connection(uuid.New())

	active := p.ActiveConnections()
	require.Len(t, active, 1)
	require.Same(t, connected, active[0])
	require.Len(t, p.Connections(), 3)
}

// TestResetClearsRegistry verifies Reset disconnects and forgets every connection.
func TestResetClearsRegistry(t *testing.T) {
	t.Parallel()

	provider := sim.NewProvider()
	p, _ := newTestPool(t, provider)
	id := uuid.New()
	first := p.Connection(id)
	require.NoError(t, first.Connect(context.Background(), nil))

	require.NoError(t, p.Reset(context.Background()))
	require.Empty(t, p.Connections())
	require.Equal(t, connection.StatusNoCore, first.Status())
	require.NotSame(t, first, p.Connection(id))
}

// TestSharedPool verifies the process-wide pool accessor.
func TestSharedPool(t *testing.T) {
	p := New(Config{})
	previous := Shared()
	t.Cleanup(func() { SetShared(previous) })
	SetShared(p)
	require.Same(t, p, Shared())
}
