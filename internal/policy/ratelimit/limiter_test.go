package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestLimiterAllowPerAccount keeps buckets independent per account.
func TestLimiterAllowPerAccount(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	a, b := uuid.New(), uuid.New()

	require.True(t, l.Allow(a))
	require.False(t, l.Allow(a))
	require.True(t, l.Allow(b))
}

// TestLimiterUnlimited never rejects when no rate is configured.
func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	id := uuid.New()
	for range 100 {
		require.True(t, l.Allow(id))
	}
}

// TestLimiterWait blocks until a token is available.
func TestLimiterWait(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 100, DefaultBurst: 1})
	id := uuid.New()
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, id))
	require.NoError(t, l.Wait(ctx, id))
	require.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

// TestLimiterWaitContextCanceled returns an error when the context ends first.
func TestLimiterWaitContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	id := uuid.New()
	require.True(t, l.Allow(id))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, id)
	require.ErrorContains(t, err, "rate limit wait")
}
