// Package gc implements the two-collection collector described in
// spec.md §4.3 (C3): a per-fiber Cheney-style nursery collect, and a
// concurrent, SATB-barriered, mark-sweep collection of the shared heap.
//
// Grounded on the teacher's collector.go (zephyrtronium-iolang), which
// intentionally delegates to Go's own GC because Io values are ordinary
// Go heap objects; prask instead owns its value graph (internal/value,
// internal/heap) so this package implements the real algorithm spec.md
// specifies, using the teacher's contains.Set (zephyrtronium/contains)
// for grey-set/visited-set dedup the same way object.go's IsKindOf uses
// it for proto-graph traversal.
package gc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zephyrtronium/contains"

	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/value"
)

// ColorList is a sleeping fiber's membership in the tri-color scan
// partition (spec.md §4.3 step 5, glossary "Color list"). Running fibers
// have no ColorList membership at all; see spec.md §8 invariant "For
// every fiber not bound to a worker, its color-list membership is exactly
// one of {sleeping-grey, sleeping-black, sleeping-scanning}."
type ColorList int

const (
	ColorGrey ColorList = iota
	ColorScanning
	ColorBlack
)

func (c ColorList) String() string {
	switch c {
	case ColorGrey:
		return "sleeping-grey"
	case ColorScanning:
		return "sleeping-scanning"
	case ColorBlack:
		return "sleeping-black"
	default:
		return "color(?)"
	}
}

// Mutator is the contract the collector needs from a fiber, kept as an
// interface here (rather than importing internal/fiber) to avoid a
// package cycle: fiber imports gc for the barrier and safepoint
// protocol, so gc cannot import fiber back.
type Mutator interface {
	// RootSlots returns the live GC roots: the heap references held in
	// the mutator's value stack (spec.md §4.3 "trace from the fiber's
	// roots"). Frames' deferred closures are not part of the root set.
	RootSlots() []value.Ref
	// Nursery returns the mutator's current private nursery.
	Nursery() *heap.Nursery
	// InstallNursery swaps in a freshly collected nursery.
	InstallNursery(n *heap.Nursery)
	// RefList returns the per-mutator SATB write-barrier queue.
	RefList() *RefList
	// Color/SetColor track sleeping-fiber scan-partition membership.
	Color() ColorList
	SetColor(ColorList)
	// AtSafepoint blocks the calling goroutine (the worker thread bound
	// to this mutator) until the collector's stop-the-world request, if
	// any, clears. Called from the fiber's own checkpoint helper
	// (internal/fiber), never by the collector itself.
	AtSafepoint()
}

// Collector coordinates the two collections over a SharedHeap and a
// dynamic set of registered Mutators (spec.md §4.3, §4.4, §4.6).
type Collector struct {
	Shared *heap.SharedHeap
	Log    diag.Logger

	SharedTriggerBytes int64
	SharedTimeout      time.Duration

	mu            sync.Mutex
	running       []Mutator // currently bound to a worker
	sleeping      []Mutator // sleeping-* color-listed
	lastCycle     time.Time
	cyclesRun     uint64
	dirtyParity   uint32

	// barrier is the SATB write-barrier enable flag (spec.md §4.3 step 2
	// "Write barrier is turned on").
	barrier uint32
	// nurseryBarrier blocks nursery collection during the initial
	// snapshot (spec.md §4.3 step 2/4).
	nurseryBarrier uint32
	// stwMutatorsWait is the flag checkpoint helpers poll (spec.md §4.6).
	stwMutatorsWait uint32
	stwCond         *sync.Cond
	stwMu           sync.Mutex

	mustCollectLocal uint32 // set momentarily to nudge all fibers, rarely used directly
}

// NewCollector constructs a Collector over an empty or existing shared
// heap.
func NewCollector(shared *heap.SharedHeap, log diag.Logger, triggerBytes int64, timeout time.Duration) *Collector {
	c := &Collector{
		Shared:             shared,
		Log:                log,
		SharedTriggerBytes: triggerBytes,
		SharedTimeout:      timeout,
		lastCycle:          time.Now(),
	}
	c.stwCond = sync.NewCond(&c.stwMu)
	return c
}

// Register adds a newly created, running mutator.
func (c *Collector) Register(m Mutator) {
	c.mu.Lock()
	c.running = append(c.running, m)
	c.mu.Unlock()
}

// Unregister removes a mutator (fiber exit).
func (c *Collector) Unregister(m Mutator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = removeMutator(c.running, m)
	c.sleeping = removeMutator(c.sleeping, m)
}

func removeMutator(s []Mutator, m Mutator) []Mutator {
	for i, x := range s {
		if x == m {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Sleep moves a mutator from running to the sleeping-grey partition
// (a fiber parking at a suspension point, spec.md §4.4).
func (c *Collector) Sleep(m Mutator) {
	c.mu.Lock()
	c.running = removeMutator(c.running, m)
	m.SetColor(ColorGrey)
	c.sleeping = append(c.sleeping, m)
	c.mu.Unlock()
}

// Wake moves a mutator from sleeping back to running (a fiber resuming).
func (c *Collector) Wake(m Mutator) {
	c.mu.Lock()
	c.sleeping = removeMutator(c.sleeping, m)
	c.running = append(c.running, m)
	c.mu.Unlock()
}

// ShouldTriggerShared reports whether the shared heap has accumulated
// enough allocation, or enough time has passed, to start a collection
// cycle (spec.md §4.3 step 1).
func (c *Collector) ShouldTriggerShared() bool {
	if c.Shared.DeltaAllocated.Load() >= c.SharedTriggerBytes {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastCycle) >= c.SharedTimeout
}

// BarrierOn reports whether the SATB write barrier is active.
func (c *Collector) BarrierOn() bool { return atomic.LoadUint32(&c.barrier) != 0 }

// NurseryBarrierOn reports whether nursery collection is currently
// suppressed (spec.md §4.3 step 2/4).
func (c *Collector) NurseryBarrierOn() bool { return atomic.LoadUint32(&c.nurseryBarrier) != 0 }

// RequestStopTheWorld raises the flag checkpoint helpers observe
// (spec.md §4.6) and waits for every running mutator to park.
func (c *Collector) RequestStopTheWorld(parkTimeout time.Duration) {
	atomic.StoreUint32(&c.stwMutatorsWait, 1)
	// Mutators park via AtSafepoint -> ParkUntilResumed below; here we
	// simply give the checkpoint tick (every 256 calls per spec.md §4.6)
	// time to observe the flag, polling allParked until parkTimeout.
	deadline := time.Now().Add(parkTimeout)
	for time.Now().Before(deadline) {
		if c.allParked() {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *Collector) allParked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running) == 0
}

// ResumeTheWorld clears stwMutatorsWait and wakes every parked mutator.
func (c *Collector) ResumeTheWorld() {
	atomic.StoreUint32(&c.stwMutatorsWait, 0)
	c.stwMu.Lock()
	c.stwCond.Broadcast()
	c.stwMu.Unlock()
}

// StwRequested reports the flag a checkpoint helper polls every 256
// invocations (spec.md §4.6 item 1).
func (c *Collector) StwRequested() bool { return atomic.LoadUint32(&c.stwMutatorsWait) != 0 }

// ParkUntilResumed is called by a mutator's AtSafepoint implementation:
// it blocks on the condition variable until StwRequested clears.
func (c *Collector) ParkUntilResumed() {
	c.stwMu.Lock()
	for c.StwRequested() {
		c.stwCond.Wait()
	}
	c.stwMu.Unlock()
}

// snapshotRoots copies every running mutator's root pointer set,
// recording them as the initial grey set (spec.md §4.3 step 2).
func (c *Collector) snapshotRoots() []value.Ref {
	c.mu.Lock()
	mutators := append([]Mutator(nil), c.running...)
	c.mu.Unlock()
	var grey []value.Ref
	for _, m := range mutators {
		grey = append(grey, m.RootSlots()...)
	}
	return grey
}

// RunSharedCycle executes the full concurrent mark-sweep algorithm,
// spec.md §4.3 steps 1–8, synchronously from the caller's goroutine
// (typically internal/runtime's gcDriver goroutine).
func (c *Collector) RunSharedCycle(workers int) {
	c.Log.Info("gc: shared cycle start")
	atomic.StoreUint32(&c.barrier, 1)
	atomic.StoreUint32(&c.nurseryBarrier, 1)

	// Step 2: first STW, snapshot roots.
	c.RequestStopTheWorld(50 * time.Millisecond)
	grey := c.snapshotRoots()
	c.ResumeTheWorld()

	// Step 3: concurrent mark of snapshot via worker pool.
	visited := contains.Set{}
	var visitedMu sync.Mutex
	c.parallelMark(grey, &visited, &visitedMu, workers)

	// Step 4: lower nursery barrier once snapshot is fully marked.
	atomic.StoreUint32(&c.nurseryBarrier, 0)

	// Step 5: incremental scan of sleeping fibers, batches of up to 100.
	c.scanSleeping(&visited, &visitedMu, workers)

	// Step 6: second STW; drain remaining ref-list entries; demote heads.
	c.RequestStopTheWorld(50 * time.Millisecond)
	c.drainAllRefLists(&visited, &visitedMu)
	c.Shared.DemoteHeads()
	c.mu.Lock()
	c.dirtyParity ^= 1
	parity := c.dirtyParity
	c.mu.Unlock()
	c.ResumeTheWorld()

	// Step 7: concurrent sweep.
	var finalize []*value.Object
	c.Shared.AllBlocks(func(b *heap.Block) {
		if b.DirtyMask() == parity {
			return
		}
		finalize = append(finalize, b.Sweep()...)
		b.SetDirtyMask(parity)
	})
	c.Shared.ReclassifyAfterSweep()
	c.sweepOversized()
	for _, obj := range finalize {
		if obj.Desc != nil && obj.Desc.Finalize != nil {
			obj.Desc.Finalize(obj)
		}
	}

	atomic.StoreUint32(&c.barrier, 0)
	c.Shared.DeltaAllocated.Reset()

	// Step 8: color rotation, sleeping-black becomes next sleeping-grey.
	c.mu.Lock()
	for _, m := range c.sleeping {
		m.SetColor(ColorGrey)
	}
	c.lastCycle = time.Now()
	c.cyclesRun++
	c.mu.Unlock()

	c.Log.Info("gc: shared cycle done")
}

// sweepOversized reclaims every oversized-path object (spec.md §4.2
// "Sizing": objects over 512 B bypass the size-classed blocks entirely)
// that mark did not reach, running its finalizer if it has one.
func (c *Collector) sweepOversized() {
	for _, obj := range c.Shared.OversizedObjects() {
		if isMarked(obj) {
			obj.SetMarked(false)
			continue
		}
		if obj.Desc != nil && obj.Desc.Finalize != nil {
			obj.Desc.Finalize(obj)
		}
		c.Shared.FreeOversized(obj)
	}
}
