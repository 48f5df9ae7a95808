// Package taskqueue provides a FIFO queue of asynchronous jobs that run one at a time.
package taskqueue

import "sync"

// Job is a unit of asynchronous work. It must call done exactly once when it
// has finished; the next queued job does not start before that.
type Job func(done func())

// Queue runs jobs strictly one after another in submission order. A job may
// finish asynchronously, so the queue never blocks the submitting goroutine
// on anything other than the first job's synchronous prefix.
type Queue struct {
	mu      sync.Mutex
	pending []Job
	running bool
}

// New constructs an idle Queue.
func New() *Queue {
	return &Queue{}
}

// Async submits a job. When the queue is idle the job starts immediately on
// the caller's goroutine; otherwise it starts on a fresh goroutine once every
// earlier job has called done.
func (q *Queue) Async(job Job) {
	if job == nil {
		return
	}
	q.mu.Lock()
	if q.running {
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()
	q.run(job)
}

// Len reports the number of jobs waiting behind the running one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a job is currently running.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

func (q *Queue) run(job Job) {
	var once sync.Once
	job(func() {
		once.Do(q.next)
	})
}

func (q *Queue) next() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.running = false
		q.mu.Unlock()
		return
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.mu.Unlock()
	go q.run(job)
}
