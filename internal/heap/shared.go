package heap

import (
	"fmt"
	"sync"

	"github.com/zephyrtronium/prask/internal/value"
)

// NumSizeClasses and ClassIncrement implement spec.md §4.2's "32 size
// classes of 16 B increments (16, 32, …, 512)".
const (
	NumSizeClasses = 32
	ClassIncrement = 16
	MaxObjectSize  = NumSizeClasses * ClassIncrement // 512
)

// ClassFor returns the size-class index for an allocation of n bytes, or
// -1 if n exceeds MaxObjectSize (oversized objects go through a dedicated
// path outside the size-classed allocator, per spec.md §4.2 "Sizing").
func ClassFor(n uint32) int {
	if n == 0 {
		n = 1
	}
	if n > MaxObjectSize {
		return -1
	}
	c := int((n + ClassIncrement - 1) / ClassIncrement)
	return c - 1
}

// classList is the four-list bookkeeping spec.md §4.2 describes per size
// class: head (currently serving), rest (partial, not head), full, and
// empty.
type classList struct {
	mu         sync.Mutex
	head       *Block
	rest, full []*Block
	empty      []*Block
}

// SharedHeap is the global, concurrently-collected heap (C2 shared tier).
type SharedHeap struct {
	classes [NumSizeClasses]classList

	// DeltaAllocated accumulates bytes allocated since the last shared
	// collection cycle (spec.md §4.3 step 1 "Trigger").
	DeltaAllocated Int64Counter

	// oversized holds allocations bigger than MaxObjectSize, outside the
	// size-classed path.
	oversizedMu sync.Mutex
	oversized   map[*value.Object]struct{}
}

// NewSharedHeap constructs an empty shared heap.
func NewSharedHeap() *SharedHeap {
	return &SharedHeap{oversized: make(map[*value.Object]struct{})}
}

// Alloc allocates obj (already constructed with its Size set) into the
// shared heap, promoting or sweeping a new head block as needed. Returns
// the block and slot index the object was installed into, or (nil, -1,
// nil) if it was routed to the oversized path.
func (h *SharedHeap) Alloc(obj *value.Object) (*Block, int, error) {
	size := obj.Size()
	if size > MaxObjectSize {
		h.oversizedMu.Lock()
		h.oversized[obj] = struct{}{}
		h.oversizedMu.Unlock()
		h.DeltaAllocated.Add(int64(size))
		return nil, -1, nil
	}
	class := ClassFor(size)
	cl := &h.classes[class]
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.head == nil {
		if !h.promoteHead(cl, class) {
			return nil, -1, fmt.Errorf("heap: out of memory allocating class %d", class)
		}
	}
	for {
		if idx := cl.head.tryAllocLocked(obj); idx >= 0 {
			obj.SetLocation(cl.head, int32(idx))
			h.DeltaAllocated.Add(int64(size))
			return cl.head, idx, nil
		}
		// Head is full: move it to full list, promote a new head.
		cl.full = append(cl.full, cl.head)
		if !h.promoteHead(cl, class) {
			return nil, -1, fmt.Errorf("heap: out of memory allocating class %d", class)
		}
	}
}

// tryAllocLocked is Block.tryAlloc but callable while the classList lock
// (not the block lock) is held, for the single-writer head-allocation
// fast path; it still takes the block's own lock so concurrent sweepers
// (spec.md §5 "allocation and sweep of the same block thus serialize")
// observe a consistent bitmap.
func (b *Block) tryAllocLocked(obj *value.Object) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryAlloc(obj)
}

// promoteHead pulls a block from rest, then empty, then allocates a fresh
// one, installing it as cl.head. If the promoted block is "dirty" (came
// from rest without being swept this cycle) it is swept first per
// spec.md §4.2 "on first alloc into a freshly promoted head, run a sweep
// pass over it first (amortized sweep)". Caller holds cl.mu.
func (h *SharedHeap) promoteHead(cl *classList, class int) bool {
	var b *Block
	switch {
	case len(cl.rest) > 0:
		b = cl.rest[len(cl.rest)-1]
		cl.rest = cl.rest[:len(cl.rest)-1]
		b.Sweep() // amortized sweep; finalizers for rest-list blocks were
		// already run by the concurrent sweeper before being placed here
		// in the common case, so this is typically a no-op scan.
	case len(cl.empty) > 0:
		b = cl.empty[len(cl.empty)-1]
		cl.empty = cl.empty[:len(cl.empty)-1]
	default:
		b = &Block{class: class}
	}
	cl.head = b
	return true
}

// DemoteHeads moves every size class's current head to the rest list, so
// new allocations during the upcoming concurrent sweep land in fresh
// heads (spec.md §4.3 step 6 "Heads in each size class are moved to the
// rest queue").
func (h *SharedHeap) DemoteHeads() {
	for i := range h.classes {
		cl := &h.classes[i]
		cl.mu.Lock()
		if cl.head != nil {
			cl.rest = append(cl.rest, cl.head)
			cl.head = nil
		}
		cl.mu.Unlock()
	}
}

// AllBlocks calls f for every block across every size class (head, rest,
// full, empty), used by the concurrent sweeper (spec.md §4.3 step 7) and
// by tests that count occupied slots.
func (h *SharedHeap) AllBlocks(f func(b *Block)) {
	for i := range h.classes {
		cl := &h.classes[i]
		cl.mu.Lock()
		blocks := make([]*Block, 0, 1+len(cl.rest)+len(cl.full)+len(cl.empty))
		if cl.head != nil {
			blocks = append(blocks, cl.head)
		}
		blocks = append(blocks, cl.rest...)
		blocks = append(blocks, cl.full...)
		blocks = append(blocks, cl.empty...)
		cl.mu.Unlock()
		for _, b := range blocks {
			f(b)
		}
	}
}

// ReclassifyAfterSweep moves blocks among full/rest/empty according to
// their post-sweep occupancy. Called once, after a concurrent sweep pass
// has completed, and covers every size class.
func (h *SharedHeap) ReclassifyAfterSweep() {
	for i := range h.classes {
		cl := &h.classes[i]
		cl.mu.Lock()
		all := append(append([]*Block{}, cl.rest...), cl.full...)
		cl.rest, cl.full = cl.rest[:0], cl.full[:0]
		for _, b := range all {
			switch {
			case b.Full():
				cl.full = append(cl.full, b)
			case b.Empty():
				cl.empty = append(cl.empty, b)
			default:
				cl.rest = append(cl.rest, b)
			}
		}
		cl.mu.Unlock()
	}
}

// Oversized reports whether obj was allocated on the oversized path.
func (h *SharedHeap) Oversized(obj *value.Object) bool {
	h.oversizedMu.Lock()
	defer h.oversizedMu.Unlock()
	_, ok := h.oversized[obj]
	return ok
}

// FreeOversized removes an oversized object found dead during sweep.
func (h *SharedHeap) FreeOversized(obj *value.Object) {
	h.oversizedMu.Lock()
	delete(h.oversized, obj)
	h.oversizedMu.Unlock()
}

// OversizedObjects returns a snapshot of all currently-tracked oversized
// objects, for the collector's mark/sweep of that path.
func (h *SharedHeap) OversizedObjects() []*value.Object {
	h.oversizedMu.Lock()
	defer h.oversizedMu.Unlock()
	out := make([]*value.Object, 0, len(h.oversized))
	for o := range h.oversized {
		out = append(out, o)
	}
	return out
}
