package progress

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyOps = []OperationType{
	OpNone, OpCreateFolder, OpMove, OpCopy, OpDelete, OpUpload,
	OpDownload, OpUpdate, OpRetrieveList, OpShare,
}

// TestSummaryBounds_PropertyBased checks that any mix of tracked work yields a
// progress value in [0,1] and never counts more objects than are tracked.
func TestSummaryBounds_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("summary progress stays within bounds", prop.ForAll(
		func(totals, completed, ops []int) bool {
			n := min(len(totals), len(completed), len(ops))
			s := NewSummarizer(Config{Throttle: -1})
			for i := range n {
				p := NewOperation(propertyOps[ops[i]], "work", int64(totals[i]))
				p.SetCompletedUnitCount(int64(completed[i]))
				s.StartTracking(p)
			}
			s.mu.Lock()
			summary, _ := s.summarizeLocked()
			s.mu.Unlock()
			if summary.Progress < 0 || summary.Progress > 1 {
				t.Logf("progress out of range: %v", summary)
				return false
			}
			return summary.Count <= n
		},
		gen.SliceOf(gen.IntRange(-1, 20)),
		gen.SliceOf(gen.IntRange(0, 25)),
		gen.SliceOf(gen.IntRange(0, len(propertyOps)-1)),
	))

	properties.TestingRun(t)
}

// TestFallbackStack_PropertyBased replays random push/pop sequences and checks
// that the active fallback is always the oldest summary still on the stack.
func TestFallbackStack_PropertyBased(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("active fallback is the first remaining entry", prop.ForAll(
		func(steps []int) bool {
			s := NewSummarizer(Config{Throttle: -1})
			pool := []*Summary{{Message: "a"}, {Message: "b"}, {Message: "c"}, {Message: "d"}}
			var model []*Summary
			for _, step := range steps {
				target := pool[step%len(pool)]
				if step >= len(pool) {
					s.PopFallbackSummary(target)
					if idx := slices.Index(model, target); idx >= 0 {
						model = slices.Delete(model, idx, idx+1)
					}
				} else {
					s.PushFallbackSummary(target)
					model = append(model, target)
				}
				var want *Summary
				if len(model) > 0 {
					want = model[0]
				}
				if s.FallbackSummary() != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 7)),
	))

	properties.TestingRun(t)
}
