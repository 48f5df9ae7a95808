package progress

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/dispatcher"
)

// DefaultThrottle is the coalescing window applied when Config.Throttle is zero.
const DefaultThrottle = 100 * time.Millisecond

// Handler receives a freshly computed summary.
type Handler func(s *Summarizer, summary *Summary)

// Executor runs posted callbacks in order. Post must not block.
type Executor interface {
	Post(fn func())
}

// Liveness is implemented by observer owners that can disappear. Observers
// whose owner reports false are dropped the next time observers are visited.
type Liveness interface {
	Alive() bool
}

// Config controls a Summarizer.
//   - Throttle: coalescing window for recomputation. Zero selects DefaultThrottle,
//     a negative value delivers on the next tick without delay.
//   - Delivery: context observers run on; defaults to dispatcher.Default().
//   - Logger: optional structured logger.
type Config struct {
	Throttle time.Duration
	Delivery Executor
	Logger   *zap.Logger
}

type observer struct {
	owner any
	fn    Handler
}

type group struct {
	members []*Progress
	max     int
}

type trackedProgress struct {
	p    *Progress
	stop func()
}

// Summarizer tracks Progress objects and publishes a throttled Summary to
// its observers whenever tracked work changes. Every method is safe for
// concurrent use. Observers run on the delivery context in the order the
// summaries were computed.
type Summarizer struct {
	mu       sync.Mutex
	throttle time.Duration
	delivery Executor
	logger   *zap.Logger

	tracked []trackedProgress
	groups  map[OperationType]*group

	fallbacks  []*Summary
	fallback   *Summary
	priorities []*Summary
	priority   *Summary

	observers []observer
	pending   bool
	latest    *Summary
}

// NewSummarizer constructs an empty Summarizer.
func NewSummarizer(cfg Config) *Summarizer {
	throttle := cfg.Throttle
	switch {
	case throttle == 0:
		throttle = DefaultThrottle
	case throttle < 0:
		throttle = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	delivery := cfg.Delivery
	if delivery == nil {
		delivery = dispatcher.Default()
	}
	return &Summarizer{
		throttle: throttle,
		delivery: delivery,
		logger:   logger,
		groups:   make(map[OperationType]*group),
	}
}

// StartTracking adds p to the tracked set as the most recent entry. Work
// that is already finished or cancelled is ignored.
func (s *Summarizer) StartTracking(p *Progress) {
	if p == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(p) >= 0 {
		return
	}
	if snap := p.Snapshot(); snap.Finished || snap.Cancelled {
		return
	}
	stop := p.Observe(func(*Progress) { s.SetNeedsUpdate() })
	s.tracked = slices.Insert(s.tracked, 0, trackedProgress{p: p, stop: stop})
	if op := p.OperationType(); op != OpNone {
		g := s.groups[op]
		if g == nil {
			g = &group{}
			s.groups[op] = g
		}
		g.members = append(g.members, p)
		g.max++
	}
	s.setNeedsUpdateLocked()
}

// StopTracking removes p from the tracked set.
func (s *Summarizer) StopTracking(p *Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTrackingLocked(p) {
		s.setNeedsUpdateLocked()
	}
}

// StopObserving stops reacting to changes of p but keeps it in the tracked
// set. Its last state still counts until it finishes or is removed.
func (s *Summarizer) StopObserving(p *Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(p)
	if idx < 0 || s.tracked[idx].stop == nil {
		return
	}
	s.tracked[idx].stop()
	s.tracked[idx].stop = nil
}

// Tracked returns the tracked objects, most recent first.
func (s *Summarizer) Tracked() []*Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Progress, len(s.tracked))
	for i, t := range s.tracked {
		out[i] = t.p
	}
	return out
}

// Reset stops tracking everything and clears the fallback and priority stacks.
func (s *Summarizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracked {
		if t.stop != nil {
			t.stop()
		}
	}
	s.tracked = nil
	s.groups = make(map[OperationType]*group)
	s.fallbacks = nil
	s.fallback = nil
	s.priorities = nil
	s.priority = nil
	s.setNeedsUpdateLocked()
}

// PushFallbackSummary stacks summary as a fallback. The first remaining entry
// of the stack is the active fallback.
func (s *Summarizer) PushFallbackSummary(summary *Summary) {
	if summary == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbacks = append(s.fallbacks, summary)
	if len(s.fallbacks) == 1 {
		s.setFallbackLocked(summary)
	}
}

// PopFallbackSummary removes summary from the fallback stack. Unknown
// summaries are ignored.
func (s *Summarizer) PopFallbackSummary(summary *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.fallbacks, summary)
	if idx < 0 {
		return
	}
	s.fallbacks = slices.Delete(s.fallbacks, idx, idx+1)
	if idx == 0 {
		var next *Summary
		if len(s.fallbacks) > 0 {
			next = s.fallbacks[0]
		}
		s.setFallbackLocked(next)
	}
}

// FallbackSummary returns the active fallback summary, if any.
func (s *Summarizer) FallbackSummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

// PushPrioritySummary stacks summary and makes it the active priority summary.
func (s *Summarizer) PushPrioritySummary(summary *Summary) {
	if summary == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities = append(s.priorities, summary)
	s.setPriorityLocked(summary)
}

// PopPrioritySummary removes summary from the priority stack. Unknown
// summaries are ignored.
func (s *Summarizer) PopPrioritySummary(summary *Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.Index(s.priorities, summary)
	if idx < 0 {
		return
	}
	s.priorities = slices.Delete(s.priorities, idx, idx+1)
	switch {
	case len(s.priorities) == 0:
		s.setPriorityLocked(nil)
	case idx == len(s.priorities):
		s.setPriorityLocked(s.priorities[len(s.priorities)-1])
	}
}

// ResetPrioritySummaries drops every priority summary.
func (s *Summarizer) ResetPrioritySummaries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorities = nil
	s.setPriorityLocked(nil)
}

// PrioritySummary returns the active priority summary, if any.
func (s *Summarizer) PrioritySummary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priority
}

// Summary returns the most recently published summary.
func (s *Summarizer) Summary() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// AddObserver registers fn under owner, which must be comparable. A second
// registration for the same owner replaces the first.
func (s *Summarizer) AddObserver(owner any, fn Handler) {
	if owner == nil || fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, o := range s.observers {
		if o.owner == owner {
			s.observers[i].fn = fn
			return
		}
	}
	s.observers = append(s.observers, observer{owner: owner, fn: fn})
}

// RemoveObserver drops the registration for owner.
func (s *Summarizer) RemoveObserver(owner any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = slices.DeleteFunc(s.observers, func(o observer) bool {
		return o.owner == owner
	})
}

// SetNeedsUpdate schedules a recomputation. Requests arriving while one is
// already scheduled are absorbed into it.
func (s *Summarizer) SetNeedsUpdate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setNeedsUpdateLocked()
}

func (s *Summarizer) setNeedsUpdateLocked() {
	if s.pending {
		return
	}
	s.pending = true
	time.AfterFunc(s.throttle, s.performUpdate)
}

func (s *Summarizer) setFallbackLocked(summary *Summary) {
	if s.fallback == summary {
		return
	}
	s.fallback = summary
	s.setNeedsUpdateLocked()
}

func (s *Summarizer) setPriorityLocked(summary *Summary) {
	if s.priority == summary {
		return
	}
	s.priority = summary
	s.setNeedsUpdateLocked()
}

func (s *Summarizer) performUpdate() {
	s.mu.Lock()
	summary, pruned := s.summarizeLocked()
	s.latest = summary
	s.observers = slices.DeleteFunc(s.observers, func(o observer) bool {
		l, ok := o.owner.(Liveness)
		return ok && !l.Alive()
	})
	observers := slices.Clone(s.observers)
	s.pending = false
	if pruned {
		s.setNeedsUpdateLocked()
	}
	// Posting under the lock keeps deliveries in computation order.
	s.delivery.Post(func() {
		for _, o := range observers {
			o.fn(s, summary)
		}
	})
	s.mu.Unlock()

	s.logger.Debug("summary updated", zap.Stringer("summary", summary))
}

// summarizeLocked walks the tracked objects most recent first. The first
// described object names the summary; when it belongs to a group with more
// than one live member the group message and group progress win outright.
// Finished and cancelled objects are pruned afterwards.
func (s *Summarizer) summarizeLocked() (*Summary, bool) {
	summary := &Summary{}
	var (
		totalUnits, completedUnits    int64
		totalFraction, completedFract float64
		finished                      []*Progress
		used                          int
		grouped                       bool
	)
	for _, t := range s.tracked {
		snap := t.p.Snapshot()
		if snap.Finished || snap.Cancelled {
			finished = append(finished, t.p)
		}
		if grouped || snap.Description == "" {
			continue
		}
		if snap.Indeterminate {
			summary.Indeterminate = true
		}
		if summary.Message == "" {
			summary.Message = snap.Description
			if progress, count, ok := s.groupProgressLocked(snap.Operation); ok {
				summary.Message, _ = GroupMessage(snap.Operation, count)
				summary.Progress = progress
				used += count
				grouped = true
				continue
			}
		}
		if !snap.Indeterminate {
			totalUnits += snap.TotalUnits
			completedUnits += snap.CompletedUnits
			if snap.TotalUnits > 0 {
				totalFraction++
				completedFract += snap.Fraction
			}
		}
		used++
	}

	if !grouped {
		switch {
		case totalUnits == 0:
			if used == 0 {
				summary.Progress = 1
			} else {
				summary.Indeterminate = true
			}
		case totalFraction != 0:
			summary.Progress = completedFract / totalFraction
		default:
			summary.Progress = float64(completedUnits) / float64(totalUnits)
		}
	}
	summary.Progress = clamp(summary.Progress)
	summary.Count = used

	for _, p := range finished {
		s.stopTrackingLocked(p)
	}
	return summary, len(finished) > 0
}

func (s *Summarizer) groupProgressLocked(op OperationType) (float64, int, bool) {
	if _, ok := groupTemplates[op]; !ok {
		return 0, 0, false
	}
	g := s.groups[op]
	if g == nil || len(g.members) < 2 {
		return 0, 0, false
	}
	snaps := make([]Snapshot, len(g.members))
	live := len(g.members)
	for i, m := range g.members {
		snaps[i] = m.Snapshot()
		if !snaps[i].Indeterminate && (snaps[i].Finished || snaps[i].Cancelled) {
			live--
		}
	}
	if live < 2 {
		return 0, 0, false
	}
	size := max(g.max, len(g.members))
	progress := float64(size-live) / float64(size)
	for _, snap := range snaps {
		if snap.Indeterminate || snap.Finished || snap.Cancelled {
			continue
		}
		progress += snap.Fraction / float64(size)
	}
	return progress, live, true
}

func (s *Summarizer) stopTrackingLocked(p *Progress) bool {
	idx := s.indexLocked(p)
	if idx < 0 {
		return false
	}
	if stop := s.tracked[idx].stop; stop != nil {
		stop()
	}
	s.tracked = slices.Delete(s.tracked, idx, idx+1)
	if op := p.OperationType(); op != OpNone {
		if g := s.groups[op]; g != nil {
			g.members = slices.DeleteFunc(g.members, func(m *Progress) bool { return m == p })
			if len(g.members) < 2 {
				g.max = len(g.members)
			}
			if len(g.members) == 0 {
				delete(s.groups, op)
			}
		}
	}
	return true
}

func (s *Summarizer) indexLocked(p *Progress) int {
	return slices.IndexFunc(s.tracked, func(t trackedProgress) bool { return t.p == p })
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
