// Package serializer provides a single-slot FIFO that linearizes
// externally-visible operations with side effects on a scheduler (start a
// frame, change scene, store a mesh, rebuild an acceleration structure) so
// an opaque render kernel never observes two such operations interleaved.
package serializer

import (
	"context"
	"sync"
)

// Job is the thunk submitted to the Serializer. It receives the context the
// caller submitted with (so cancellation propagates) and returns a result
// value and/or error.
type Job func(ctx context.Context) (any, error)

// ticket pairs a submitted Job with the channel its result is delivered on.
type ticket struct {
	ctx    context.Context
	job    Job
	result chan Result
}

// Result is what a submitted Job settles with.
type Result struct {
	Value any
	Err   error
}

// Serializer runs at most one Job at a time; later submissions queue FIFO
// and are promoted only once the running Job's result has settled. Results
// are delivered to each caller in submission order: for any two submits
// j1 then j2, j1's result always settles no later than j2's.
type Serializer struct {
	mu      sync.Mutex
	queue   []*ticket
	running bool
}

// New creates an idle Serializer.
func New() *Serializer {
	return &Serializer{}
}

// Submit enqueues job and returns a channel that receives exactly one
// Result once the job (and everything ahead of it) has run to completion.
// Submit never blocks: jobs run and are promoted on a single background
// drain goroutine, so callers may submit from the same goroutine that will later
// receive on the returned channel without deadlocking.
func (s *Serializer) Submit(ctx context.Context, job Job) <-chan Result {
	t := &ticket{ctx: ctx, job: job, result: make(chan Result, 1)}

	s.mu.Lock()
	s.queue = append(s.queue, t)
	shouldStart := !s.running
	if shouldStart {
		s.running = true
	}
	s.mu.Unlock()

	if shouldStart {
		go s.drain()
	}

	return t.result
}

// drain runs queued tickets back-to-back, each awaiting the previous to
// fully settle, until the queue is empty.
func (s *Serializer) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		value, err := t.job(t.ctx)
		t.result <- Result{Value: value, Err: err}
	}
}

// Len reports the number of jobs waiting in the queue; a job that has
// already started running is not counted.
// Intended for diagnostics/metrics, not for control flow.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if s.running && n == 0 {
		return 0
	}
	return n
}
