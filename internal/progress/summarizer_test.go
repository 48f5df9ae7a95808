package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/accountlink/internal/dispatcher"
)

type recorder struct {
	mu        sync.Mutex
	summaries []*Summary
}

func (r *recorder) handle(_ *Summarizer, s *Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

func (r *recorder) last() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.summaries) == 0 {
		return nil
	}
	return r.summaries[len(r.summaries)-1]
}

type deadOwner struct{}

func (deadOwner) Alive() bool { return false }

func newTestSummarizer(t *testing.T) (*Summarizer, *recorder) {
	t.Helper()
	s := NewSummarizer(Config{Throttle: 10 * time.Millisecond})
	rec := &recorder{}
	s.AddObserver(rec, rec.handle)
	return s, rec
}

// TestSummarizerEmptyIsComplete verifies an empty summarizer reports full progress.
func TestSummarizerEmptyIsComplete(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	s.SetNeedsUpdate()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	got := rec.last()
	require.False(t, got.Indeterminate)
	require.InDelta(t, 1, got.Progress, 1e-9)
	require.Empty(t, got.Message)
	require.Zero(t, got.Count)
}

// TestSummarizerCoalescesUpdates verifies many update requests in one window yield one notification.
func TestSummarizerCoalescesUpdates(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(Config{Throttle: 50 * time.Millisecond})
	rec := &recorder{}
	s.AddObserver(rec, rec.handle)
	for range 25 {
		s.SetNeedsUpdate()
	}
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}

// TestSummarizerGroupsSameType verifies group messages and their collapse once members finish.
func TestSummarizerGroupsSameType(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	a := NewOperation(OpUpload, "Uploading a.txt", 1)
	b := NewOperation(OpUpload, "Uploading b.txt", 1)
	c := NewOperation(OpUpload, "Uploading c.txt", 1)
	s.StartTracking(a)
	s.StartTracking(b)
	s.StartTracking(c)

	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 3 files…"
	}, time.Second, time.Millisecond)
	require.InDelta(t, 0, rec.last().Progress, 1e-9)

	a.Finish()
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 2 files…"
	}, time.Second, time.Millisecond)
	require.InDelta(t, 1.0/3.0, rec.last().Progress, 1e-9)

	b.Finish()
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading c.txt" && len(s.Tracked()) == 1
	}, time.Second, time.Millisecond)

	// A stale historical count must not leak into a new group.
	d := NewOperation(OpUpload, "Uploading d.txt", 2)
	s.StartTracking(d)
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 2 files…"
	}, time.Second, time.Millisecond)
	require.InDelta(t, 0, rec.last().Progress, 1e-9)
}

// TestSummarizerCancelledIsPruned treats a cancelled group member as done and drops it.
func TestSummarizerCancelledIsPruned(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	uploads := []*Progress{
		NewOperation(OpUpload, "Uploading a.txt", 4),
		NewOperation(OpUpload, "Uploading b.txt", 4),
		NewOperation(OpUpload, "Uploading c.txt", 4),
	}
	for _, u := range uploads {
		s.StartTracking(u)
	}
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 3 files…"
	}, time.Second, time.Millisecond)

	uploads[1].Cancel()
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 2 files…" && got.Count == 2 && len(s.Tracked()) == 2
	}, time.Second, time.Millisecond)
	require.NotContains(t, s.Tracked(), uploads[1])
	require.InDelta(t, 1.0/3.0, rec.last().Progress, 1e-9)
}

// TestSummarizerIgnoresFinishedOnStart skips work that is already over when tracking starts.
func TestSummarizerIgnoresFinishedOnStart(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	done := NewOperation(OpUpload, "Uploading done.txt", 1)
	done.Finish()
	cancelled := NewOperation(OpUpload, "Uploading cancelled.txt", 1)
	cancelled.Cancel()
	s.StartTracking(done)
	s.StartTracking(cancelled)
	require.Empty(t, s.Tracked())

	live := NewOperation(OpUpload, "Uploading live.txt", 2)
	s.StartTracking(live)
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading live.txt"
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, rec.last().Count)

	// A second upload forms a group of two, not one inflated by the ignored work.
	s.StartTracking(NewOperation(OpUpload, "Uploading next.txt", 2))
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Message == "Uploading 2 files…"
	}, time.Second, time.Millisecond)
	require.InDelta(t, 0, rec.last().Progress, 1e-9)
}

// TestSummarizerStopObservingKeepsEntry keeps the object counted without reacting to it.
func TestSummarizerStopObservingKeepsEntry(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	p := NewOperation(OpCopy, "Copying", 4)
	s.StartTracking(p)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	s.StopObserving(p)
	p.Advance(2)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.count())
	require.Equal(t, []*Progress{p}, s.Tracked())

	s.SetNeedsUpdate()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	require.InDelta(t, 0.5, rec.last().Progress, 1e-9)

	s.StopTracking(p)
	require.Empty(t, s.Tracked())
}

// TestSummarizerDeliversOnExecutor runs observers on the delivery context, in order.
func TestSummarizerDeliversOnExecutor(t *testing.T) {
	t.Parallel()

	d := dispatcher.New(nil)
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	s := NewSummarizer(Config{Throttle: -1, Delivery: d})
	rec := &recorder{}
	s.AddObserver(rec, rec.handle)

	block := make(chan struct{})
	d.Post(func() { <-block })
	p := NewOperation(OpCopy, "Copying", 4)
	s.StartTracking(p)
	time.Sleep(20 * time.Millisecond)
	p.Advance(2)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, rec.count())

	close(block)
	require.NoError(t, d.Wait(context.Background()))
	require.GreaterOrEqual(t, rec.count(), 2)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.InDelta(t, 0, rec.summaries[0].Progress, 1e-9)
	require.InDelta(t, 0.5, rec.summaries[len(rec.summaries)-1].Progress, 1e-9)
}

// TestSummarizerMixedProgress verifies mean-fraction aggregation across ungrouped work.
func TestSummarizerMixedProgress(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	list := NewOperation(OpRetrieveList, "Loading folder", 4)
	share := NewOperation(OpShare, "Sharing", 2)
	list.SetCompletedUnitCount(1)
	share.SetCompletedUnitCount(1)
	s.StartTracking(list)
	s.StartTracking(share)

	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Count == 2
	}, time.Second, time.Millisecond)
	got := rec.last()
	require.Equal(t, "Sharing", got.Message)
	require.InDelta(t, (0.25+0.5)/2, got.Progress, 1e-9)
	require.False(t, got.Indeterminate)
}

// TestSummarizerIndeterminate verifies indeterminate work marks the summary indeterminate.
func TestSummarizerIndeterminate(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	p := NewOperation(OpRetrieveList, "Listing", -1)
	s.StartTracking(p)
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Indeterminate && got.Message == "Listing"
	}, time.Second, time.Millisecond)
}

// TestSummarizerSkipsUndescribed verifies objects without a description are ignored.
func TestSummarizerSkipsUndescribed(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	s.StartTracking(New(10))
	require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, time.Millisecond)
	got := rec.last()
	require.Zero(t, got.Count)
	require.InDelta(t, 1, got.Progress, 1e-9)
}

// TestSummarizerFallbackStack verifies the first remaining fallback stays active.
func TestSummarizerFallbackStack(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(Config{Throttle: -1})
	first := &Summary{Message: "first"}
	second := &Summary{Message: "second"}

	s.PushFallbackSummary(first)
	s.PushFallbackSummary(second)
	require.Same(t, first, s.FallbackSummary())

	s.PopFallbackSummary(second)
	require.Same(t, first, s.FallbackSummary())

	s.PushFallbackSummary(second)
	s.PopFallbackSummary(first)
	require.Same(t, second, s.FallbackSummary())

	s.PopFallbackSummary(&Summary{Message: "second"})
	require.Same(t, second, s.FallbackSummary())

	s.PopFallbackSummary(second)
	require.Nil(t, s.FallbackSummary())
}

// TestSummarizerPriorityStack verifies the most recently pushed priority wins.
func TestSummarizerPriorityStack(t *testing.T) {
	t.Parallel()

	s := NewSummarizer(Config{Throttle: -1})
	low := &Summary{Message: "low"}
	high := &Summary{Message: "high"}

	s.PushPrioritySummary(low)
	s.PushPrioritySummary(high)
	require.Same(t, high, s.PrioritySummary())

	s.PopPrioritySummary(high)
	require.Same(t, low, s.PrioritySummary())

	s.PushPrioritySummary(high)
	s.PopPrioritySummary(low)
	require.Same(t, high, s.PrioritySummary())

	s.ResetPrioritySummaries()
	require.Nil(t, s.PrioritySummary())
}

// TestSummarizerDropsDeadObservers verifies observers with a dead owner stop receiving summaries.
func TestSummarizerDropsDeadObservers(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	calls := 0
	s.AddObserver(deadOwner{}, func(*Summarizer, *Summary) { calls++ })
	s.SetNeedsUpdate()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, calls)

	s.RemoveObserver(rec)
	s.SetNeedsUpdate()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}

// TestSummarizerReset verifies Reset clears tracking and stacks.
func TestSummarizerReset(t *testing.T) {
	t.Parallel()

	s, rec := newTestSummarizer(t)
	s.StartTracking(NewOperation(OpCopy, "Copying", 3))
	s.PushPrioritySummary(&Summary{Message: "Connecting…"})
	s.PushFallbackSummary(&Summary{Message: "Idle"})
	s.Reset()

	require.Empty(t, s.Tracked())
	require.Nil(t, s.PrioritySummary())
	require.Nil(t, s.FallbackSummary())
	require.Eventually(t, func() bool {
		got := rec.last()
		return got != nil && got.Count == 0
	}, time.Second, time.Millisecond)
}

// TestSharedRegistry verifies Shared returns one summarizer per key.
func TestSharedRegistry(t *testing.T) {
	t.Parallel()

	a := Shared("shared-test-a")
	require.Same(t, a, Shared("shared-test-a"))
	require.NotSame(t, a, Shared("shared-test-b"))
	ForgetShared("shared-test-a")
	require.NotSame(t, a, Shared("shared-test-a"))
}
