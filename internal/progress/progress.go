package progress

import (
	"sync"
)

// OperationType classifies a unit of work so that concurrent operations of
// the same kind can be summarized together.
type OperationType string

// Known operation types. Only some of them carry a group message template.
const (
	OpNone           OperationType = ""
	OpCreateFolder   OperationType = "create_folder"
	OpMove           OperationType = "move"
	OpCopy           OperationType = "copy"
	OpDelete         OperationType = "delete"
	OpUpload         OperationType = "upload"
	OpDownload       OperationType = "download"
	OpUpdate         OperationType = "update"
	OpRetrieveList   OperationType = "retrieve_list"
	OpRetrieveThumbs OperationType = "retrieve_thumbnails"
	OpShare          OperationType = "share"
)

// Snapshot is a consistent view of a Progress at one instant.
type Snapshot struct {
	TotalUnits     int64
	CompletedUnits int64
	Fraction       float64
	Indeterminate  bool
	Description    string
	Operation      OperationType
	Finished       bool
	Cancelled      bool
}

// Progress is a handle for one unit of work. All methods are safe for
// concurrent use. Change observers run synchronously on the mutating
// goroutine after the internal lock has been released.
type Progress struct {
	mu            sync.Mutex
	total         int64
	completed     int64
	indeterminate bool
	description   string
	op            OperationType
	finished      bool
	cancelled     bool
	cancelHandler func()

	observers map[uint64]func(*Progress)
	nextObs   uint64
}

// New returns a Progress expecting total units of work. A negative total
// marks the work as indeterminate.
func New(total int64) *Progress {
	return &Progress{total: total}
}

// NewOperation returns a described Progress of the given operation type.
func NewOperation(op OperationType, description string, total int64) *Progress {
	return &Progress{total: total, op: op, description: description}
}

// Observe registers fn to be called after every change. The returned func
// removes the registration.
func (p *Progress) Observe(fn func(*Progress)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	p.mu.Lock()
	if p.observers == nil {
		p.observers = make(map[uint64]func(*Progress))
	}
	p.nextObs++
	id := p.nextObs
	p.observers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// SetTotalUnitCount updates the expected number of units.
func (p *Progress) SetTotalUnitCount(total int64) {
	p.update(func() { p.total = total })
}

// TotalUnitCount returns the expected number of units.
func (p *Progress) TotalUnitCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// SetCompletedUnitCount updates the number of finished units.
func (p *Progress) SetCompletedUnitCount(completed int64) {
	p.update(func() { p.completed = completed })
}

// Advance adds n to the completed unit count.
func (p *Progress) Advance(n int64) {
	p.update(func() { p.completed += n })
}

// CompletedUnitCount returns the number of finished units.
func (p *Progress) CompletedUnitCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// SetIndeterminate forces the indeterminate flag regardless of unit counts.
func (p *Progress) SetIndeterminate(v bool) {
	p.update(func() { p.indeterminate = v })
}

// SetDescription replaces the localized description.
func (p *Progress) SetDescription(desc string) {
	p.update(func() { p.description = desc })
}

// Description returns the localized description.
func (p *Progress) Description() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.description
}

// SetOperationType sets the operation classification.
func (p *Progress) SetOperationType(op OperationType) {
	p.update(func() { p.op = op })
}

// OperationType returns the operation classification.
func (p *Progress) OperationType() OperationType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.op
}

// SetCancellationHandler installs fn to run once when Cancel is first called.
func (p *Progress) SetCancellationHandler(fn func()) {
	p.mu.Lock()
	p.cancelHandler = fn
	p.mu.Unlock()
}

// Finish marks the work complete, filling in the completed count.
func (p *Progress) Finish() {
	p.update(func() {
		if p.total > 0 {
			p.completed = p.total
		}
		p.finished = true
	})
}

// Cancel marks the work cancelled and runs the cancellation handler once.
func (p *Progress) Cancel() {
	var handler func()
	p.update(func() {
		if !p.cancelled {
			handler = p.cancelHandler
		}
		p.cancelled = true
	})
	if handler != nil {
		handler()
	}
}

// FractionCompleted returns completed/total clamped to [0,1]; indeterminate
// work reports 0.
func (p *Progress) FractionCompleted() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fractionLocked()
}

// IsIndeterminate reports whether the amount of work is unknown.
func (p *Progress) IsIndeterminate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.indeterminateLocked()
}

// IsFinished reports whether the work has completed.
func (p *Progress) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishedLocked()
}

// IsCancelled reports whether Cancel has been called.
func (p *Progress) IsCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// Snapshot returns a consistent copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		TotalUnits:     p.total,
		CompletedUnits: p.completed,
		Fraction:       p.fractionLocked(),
		Indeterminate:  p.indeterminateLocked(),
		Description:    p.description,
		Operation:      p.op,
		Finished:       p.finishedLocked(),
		Cancelled:      p.cancelled,
	}
}

func (p *Progress) indeterminateLocked() bool {
	if p.indeterminate {
		return true
	}
	return p.total < 0 || p.completed < 0 || (p.total == 0 && p.completed == 0)
}

func (p *Progress) finishedLocked() bool {
	if p.finished {
		return true
	}
	return p.total > 0 && p.completed >= p.total
}

func (p *Progress) fractionLocked() float64 {
	if p.indeterminateLocked() || p.total <= 0 {
		return 0
	}
	f := float64(p.completed) / float64(p.total)
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (p *Progress) update(mutate func()) {
	p.mu.Lock()
	mutate()
	observers := make([]func(*Progress), 0, len(p.observers))
	for _, fn := range p.observers {
		observers = append(observers, fn)
	}
	p.mu.Unlock()
	for _, fn := range observers {
		fn(p)
	}
}
