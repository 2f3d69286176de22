package gc

import (
	"sync"

	"github.com/zephyrtronium/contains"
	"golang.org/x/sync/errgroup"

	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/value"
)

// markOne marks a single object: shared-heap objects OR their slot in
// the owning Block's mark bitmap (spec.md §4.3 step 3 "atomic OR into
// the block's mark bitmap"); nursery-resident and oversized objects mark
// their own header bit instead, since they have no Block.
func markOne(obj *value.Object) {
	loc, idx := obj.Location()
	if block, ok := loc.(*heap.Block); ok {
		block.Mark(int(idx))
		return
	}
	obj.SetMarked(true)
}

func isMarked(obj *value.Object) bool {
	loc, idx := obj.Location()
	if block, ok := loc.(*heap.Block); ok {
		return block.IsMarked(int(idx))
	}
	return obj.Marked()
}

// parallelMark drains an initial grey set in waves, each wave fanned out
// across up to workers goroutines, per spec.md §4.3 step 3: "Worker pool
// drains the grey set using each object's walk; recursion is bounded by
// splitting work when the local grey list exceeds 128 entries, feeding
// the shared work deque." Unbounded native-stack recursion never
// happens here regardless of an object's fan-out: Walk only appends a
// child to a slice, never calls back into markOne, so the 128-entry
// split the spec describes (handing part of an over-large local list to
// a separate deque so one goroutine doesn't walk its entire subgraph
// alone) is a throughput tuning knob, not a correctness requirement —
// every child collected this wave is already handed to the full
// worker-pool fan-out on the next wave either way.
func (c *Collector) parallelMark(grey []value.Ref, visited *contains.Set, visitedMu *sync.Mutex, workers int) {
	if workers < 1 {
		workers = 1
	}
	wave := grey
	for len(wave) > 0 {
		// Dedup the wave against the visited set up front.
		var todo []value.Ref
		visitedMu.Lock()
		for _, obj := range wave {
			if obj != nil && visited.Add(obj.UniqueID()) {
				todo = append(todo, obj)
			}
		}
		visitedMu.Unlock()
		if len(todo) == 0 {
			break
		}
		next := make([][]value.Ref, len(todo))
		var g errgroup.Group
		g.SetLimit(workers)
		for i, obj := range todo {
			i, obj := i, obj
			g.Go(func() error {
				markOne(obj)
				var children []value.Ref
				obj.Walk(func(r value.Ref) {
					children = append(children, r)
				})
				next[i] = children
				return nil
			})
		}
		_ = g.Wait()
		wave = wave[:0]
		for _, c := range next {
			wave = append(wave, c...)
		}
	}
}

// scanSleeping implements spec.md §4.3 step 5: pull up to 100 grey
// sleeping fibers at a time into scanning, trace their roots, move them
// to black, interleaved with draining whatever the write barrier has
// queued.
func (c *Collector) scanSleeping(visited *contains.Set, visitedMu *sync.Mutex, workers int) {
	for {
		c.mu.Lock()
		var batch []Mutator
		for _, m := range c.sleeping {
			if m.Color() == ColorGrey && len(batch) < 100 {
				batch = append(batch, m)
			}
		}
		for _, m := range batch {
			m.SetColor(ColorScanning)
		}
		c.mu.Unlock()
		if len(batch) == 0 {
			break
		}
		var grey []value.Ref
		for _, m := range batch {
			grey = append(grey, m.RootSlots()...)
		}
		c.parallelMark(grey, visited, visitedMu, workers)
		c.mu.Lock()
		for _, m := range batch {
			m.SetColor(ColorBlack)
		}
		c.mu.Unlock()
		c.drainAllRefLists(visited, visitedMu)
	}
}

// drainAllRefLists marks every (old, new) pair queued by the SATB write
// barrier across every registered mutator (spec.md §4.3 "Interleaved:
// whatever pointers the write barrier has deposited in per-mutator
// ref-lists are drained and marked" and step 6's final drain).
func (c *Collector) drainAllRefLists(visited *contains.Set, visitedMu *sync.Mutex) {
	c.mu.Lock()
	all := append(append([]Mutator(nil), c.running...), c.sleeping...)
	c.mu.Unlock()
	var grey []value.Ref
	for _, m := range all {
		grey = append(grey, m.RefList().Drain()...)
	}
	if len(grey) > 0 {
		c.parallelMark(grey, visited, visitedMu, 1)
	}
}
