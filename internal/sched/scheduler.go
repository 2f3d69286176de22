// Package sched implements the fiber scheduler and I/O/timer reactor
// (spec.md §4.4, §5, C6): a fixed pool of OS worker threads pulling
// runnable fibers from a FIFO run queue, plus await-cycle deadlock
// detection and a timer wheel for sleep operations. Channel send/receive
// lives in internal/runtime.
//
// Grounded on the teacher's Scheduler (zephyrtronium-iolang/scheduler.go):
// there, a single goroutine owns a coros dependency map and arbitrates
// start/pause/finish/addon-load events over unbuffered channels,
// detecting await-cycles (a primitive deadlock check) before blocking.
// Scheduler here generalizes that single coordinator goroutine into a
// worker-pool run loop (golang.org/x/sync/errgroup, the chazu-maggie
// pack's concurrency idiom) while keeping the await-cycle check, here
// over a mutex-guarded dependency map (Await/Finish) rather than channels.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/gc"
)

// Runnable is a unit of work the scheduler hands to a worker: typically
// a closure over a *fiber.Fiber that runs it until it exits. A fiber
// blocked in a channel operation or sleep stays inside its Runnable.
type Runnable func()

// timer is one entry in the sleep-timer wheel, ordered by deadline.
type timer struct {
	deadline time.Time
	seq      uint64
	wake     func()
}

func (t *timer) Less(other btree.Item) bool {
	o := other.(*timer)
	if t.deadline.Equal(o.deadline) {
		return t.seq < o.seq
	}
	return t.deadline.Before(o.deadline)
}

// Scheduler runs a pool of workers draining a run queue, arbitrates
// fiber dependency edges for deadlock detection, and wakes sleepers from
// a btree-backed timer wheel (github.com/google/btree, the chazu-maggie
// pack's ordered-index structure of choice, here repurposed from a code
// index into a deadline index).
type Scheduler struct {
	Log diag.Logger
	GC  *gc.Collector

	runQ chan Runnable

	mu      sync.Mutex
	waiting map[*fiber.Fiber]*fiber.Fiber // a -> b, a awaits b; nil means running/ready
	wheel   *btree.BTree
	seq     uint64

	wake chan struct{}

	workers int
}

// New creates a Scheduler with the given worker-pool size (0 selects a
// small default; internal/runtime resolves the real GOMAXPROCS-based
// default from internal/config).
func New(workers int, coll *gc.Collector, log diag.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		Log:     log,
		GC:      coll,
		runQ:    make(chan Runnable, 256),
		waiting: make(map[*fiber.Fiber]*fiber.Fiber),
		wheel:   btree.New(32),
		wake:    make(chan struct{}, 1),
		workers: workers,
	}
}

// Submit enqueues a fiber to run once a worker is free (spec.md §4.4
// "FIFO run queue").
func (s *Scheduler) Submit(r Runnable) {
	s.runQ <- r
}

// Await records that fiber a depends on fiber b's completion, raising a
// deadlock error if this would create a dependency cycle (spec.md §5
// "fiber deadlock detection"), mirroring the teacher's cycle walk in
// Scheduler.schedule.
func (s *Scheduler) Await(a, b *fiber.Fiber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := s.waiting[b]; c != nil; c = s.waiting[c] {
		if c == a {
			return errDeadlock{a, b}
		}
	}
	s.waiting[a] = b
	return nil
}

// Finish clears a's dependency edge and releases anything waiting on it
// (spec.md §5 fiber termination).
func (s *Scheduler) Finish(a *fiber.Fiber) {
	s.mu.Lock()
	delete(s.waiting, a)
	for x, b := range s.waiting {
		if b == a {
			s.waiting[x] = nil
		}
	}
	s.mu.Unlock()
}

// IsBlocked reports whether a is currently awaiting another fiber.
func (s *Scheduler) IsBlocked(a *fiber.Fiber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting[a] != nil
}

// errDeadlock is raised when Await would close a wait cycle.
type errDeadlock struct{ a, b *fiber.Fiber }

func (e errDeadlock) Error() string { return "sched: deadlock between awaiting fibers" }

// SleepUntil schedules wake to run no earlier than deadline (spec.md §5
// "fiber.sleep"), returning a cancel function.
func (s *Scheduler) SleepUntil(deadline time.Time, wake func()) (cancel func()) {
	s.mu.Lock()
	s.seq++
	t := &timer{deadline: deadline, seq: s.seq, wake: wake}
	s.wheel.ReplaceOrInsert(t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return func() {
		s.mu.Lock()
		s.wheel.Delete(t)
		s.mu.Unlock()
	}
}

// pendingDeadline returns the earliest scheduled timer's deadline, or
// false if the wheel is empty.
func (s *Scheduler) pendingDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	min := s.wheel.Min()
	if min == nil {
		return time.Time{}, false
	}
	return min.(*timer).deadline, true
}

// fireExpired pops and runs every timer whose deadline has passed.
func (s *Scheduler) fireExpired(now time.Time) {
	for {
		s.mu.Lock()
		min := s.wheel.Min()
		if min == nil || min.(*timer).deadline.After(now) {
			s.mu.Unlock()
			return
		}
		t := s.wheel.DeleteMin().(*timer)
		s.mu.Unlock()
		t.wake()
	}
}

// Run drives the worker pool and the timer wheel until ctx is canceled.
// Each worker pulls a Runnable off runQ and executes it synchronously
// until it returns. A Runnable whose fiber blocks does not return, so the
// blocked fiber keeps its worker until it resumes and exits.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		g.Go(func() error { return s.workerLoop(ctx) })
	}
	g.Go(func() error { return s.timerLoop(ctx) })
	return g.Wait()
}

func (s *Scheduler) workerLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case r, ok := <-s.runQ:
			if !ok {
				return nil
			}
			r()
		}
	}
}

func (s *Scheduler) timerLoop(ctx context.Context) error {
	for {
		var wait time.Duration
		if d, ok := s.pendingDeadline(); ok {
			wait = time.Until(d)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
			s.fireExpired(time.Now())
		case <-s.wake:
		}
	}
}

// Close stops accepting new work.
func (s *Scheduler) Close() {
	close(s.runQ)
}
