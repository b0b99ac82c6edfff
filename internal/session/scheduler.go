package session

import (
	"context"
	"sync"
	"time"
)

// timer is the part of *time.Timer the scheduler uses.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Scheduler is a trailing-edge debouncer: values scheduled within one interval
// collapse into a single sink call carrying the last value. A sink call that
// is already running is never interrupted.
type Scheduler[T any] struct {
	interval  time.Duration
	sink      func(ctx context.Context, v T)
	afterFunc afterFunc

	mu      sync.Mutex
	pending T
	has     bool
	gen     uint64
	timer   timer
	stopped bool
	running sync.WaitGroup
}

func NewScheduler[T any](interval time.Duration, sink func(ctx context.Context, v T)) *Scheduler[T] {
	return newScheduler(interval, sink, realAfterFunc)
}

func newScheduler[T any](interval time.Duration, sink func(ctx context.Context, v T), after afterFunc) *Scheduler[T] {
	if after == nil {
		after = realAfterFunc
	}
	return &Scheduler[T]{interval: interval, sink: sink, afterFunc: after}
}

// Schedule replaces the pending value and restarts the interval.
func (s *Scheduler[T]) Schedule(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = v
	s.has = true
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = s.afterFunc(s.interval, func() { s.fire(gen) })
}

// Pending reports whether a value is waiting for the interval to pass.
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.has
}

func (s *Scheduler[T]) fire(gen uint64) {
	v, ok := s.take(gen)
	if !ok {
		return
	}
	defer s.running.Done()
	s.sink(context.Background(), v)
}

// take claims the pending value. A zero gen claims it unconditionally.
func (s *Scheduler[T]) take(gen uint64) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.has || (gen != 0 && gen != s.gen) {
		return zero, false
	}
	v := s.pending
	s.pending = zero
	s.has = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.running.Add(1)
	return v, true
}

// FlushNow writes the pending value immediately and waits for every sink
// call in progress. It reports whether a pending value was written.
func (s *Scheduler[T]) FlushNow(ctx context.Context) bool {
	v, ok := s.take(0)
	if ok {
		func() {
			defer s.running.Done()
			s.sink(ctx, v)
		}()
	}
	s.running.Wait()
	return ok
}

// Stop drops the pending value and ignores later Schedule calls.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.has = false
	var zero T
	s.pending = zero
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
