package gc

import (
	"testing"
	"time"

	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/value"
)

// fakeMutator is a minimal Mutator backed by a fixed root slice, enough
// to drive RunSharedCycle without needing internal/fiber (which this
// package cannot import; see the Mutator doc comment).
type fakeMutator struct {
	roots   []value.Ref
	nursery *heap.Nursery
	refList *RefList
	color   ColorList
}

func newFakeMutator(shared *heap.SharedHeap) *fakeMutator {
	return &fakeMutator{
		nursery: heap.NewNursery(shared, heap.DefaultNurseryTrigger),
		refList: &RefList{},
	}
}

func (m *fakeMutator) RootSlots() []value.Ref         { return m.roots }
func (m *fakeMutator) Nursery() *heap.Nursery          { return m.nursery }
func (m *fakeMutator) InstallNursery(n *heap.Nursery)  { m.nursery = n }
func (m *fakeMutator) RefList() *RefList               { return m.refList }
func (m *fakeMutator) Color() ColorList                { return m.color }
func (m *fakeMutator) SetColor(c ColorList)            { m.color = c }
func (m *fakeMutator) AtSafepoint()                    {}

var recordDesc = &value.TypeDesc{Name: "record"}
var containerDesc = &value.TypeDesc{Name: "container"}

func totalUsedSlots(h *heap.SharedHeap) int {
	n := 0
	h.AllBlocks(func(b *heap.Block) { n += b.Used() })
	return n
}

// TestSharedCycleReclaimsUnreachableRecords is spec.md §8 scenario 4,
// scaled down for test speed: allocate a batch of fixed-size records,
// reachable only through one container object (modeling "a map keyed by
// its index"), run one shared collection to confirm nothing is
// reclaimed while the container is still rooted, then replace the root
// with a container holding only a single shared sentinel (modeling
// "overwrite all entries with a single shared sentinel") and run a
// second cycle. Afterward, shared-heap used slots must drop back down
// to roughly the sentinel's own footprint, not the original batch size.
func TestSharedCycleReclaimsUnreachableRecords(t *testing.T) {
	const n = 2000
	shared := heap.NewSharedHeap()
	coll := NewCollector(shared, diag.For("gc_test"), 1<<30, time.Hour)
	m := newFakeMutator(shared)
	coll.Register(m)

	records := make([]value.Ref, n)
	for i := range records {
		obj := value.NewObject(recordDesc, 48)
		if _, _, err := shared.Alloc(obj); err != nil {
			t.Fatalf("Alloc record %d: %v", i, err)
		}
		records[i] = obj
	}

	// Size is the container's own header footprint, not proportional to
	// how many Refs it holds, so this stays within the size-classed
	// (<=512 B) path and is tracked in a Block like the records are,
	// rather than falling into the oversized path (internal/heap/shared.go
	// ClassFor returns -1 above MaxObjectSize).
	mapV1 := value.NewObject(containerDesc, 64)
	mapV1.Refs = records
	if _, _, err := shared.Alloc(mapV1); err != nil {
		t.Fatalf("Alloc mapV1: %v", err)
	}
	m.roots = []value.Ref{mapV1}

	coll.RunSharedCycle(4)

	if got := totalUsedSlots(shared); got != n+1 {
		t.Fatalf("used slots after first cycle = %d, want %d (nothing reclaimed, everything rooted)", got, n+1)
	}

	sentinel := value.NewObject(recordDesc, 48)
	if _, _, err := shared.Alloc(sentinel); err != nil {
		t.Fatalf("Alloc sentinel: %v", err)
	}
	mapV2 := value.NewObject(containerDesc, 8)
	mapV2.Refs = []value.Ref{sentinel}
	if _, _, err := shared.Alloc(mapV2); err != nil {
		t.Fatalf("Alloc mapV2: %v", err)
	}
	// Overwrite the root: mapV1 and every record it reaches are now
	// unreachable from any mutator.
	m.roots = []value.Ref{mapV2}

	coll.RunSharedCycle(4)

	got := totalUsedSlots(shared)
	if got > 3 {
		t.Fatalf("used slots after second cycle = %d, want <= 3 (sentinel + mapV1's + mapV2's own slots, not the original %d records)", got, n)
	}
}

// TestShouldTriggerShared covers the allocation-threshold and timeout
// triggers independently (spec.md §4.3 step 1).
func TestShouldTriggerShared(t *testing.T) {
	shared := heap.NewSharedHeap()
	coll := NewCollector(shared, diag.For("gc_test"), 1024, time.Hour)
	if coll.ShouldTriggerShared() {
		t.Fatal("triggered with zero bytes allocated and no time elapsed")
	}
	shared.DeltaAllocated.Add(2048)
	if !coll.ShouldTriggerShared() {
		t.Fatal("did not trigger once DeltaAllocated exceeded the byte threshold")
	}

	coll2 := NewCollector(shared, diag.For("gc_test"), 1<<62, time.Nanosecond)
	time.Sleep(time.Millisecond)
	if !coll2.ShouldTriggerShared() {
		t.Fatal("did not trigger once the timeout elapsed")
	}
}

// TestSleepWakeColorTransitions exercises the sleeping-partition
// bookkeeping scenario 3's fairness guarantee and §8's color-list
// invariant both depend on.
func TestSleepWakeColorTransitions(t *testing.T) {
	shared := heap.NewSharedHeap()
	coll := NewCollector(shared, diag.For("gc_test"), 1<<30, time.Hour)
	m := newFakeMutator(shared)
	coll.Register(m)

	coll.Sleep(m)
	if m.Color() != ColorGrey {
		t.Fatalf("Color() after Sleep = %v, want ColorGrey", m.Color())
	}
	coll.Wake(m)
	coll.mu.Lock()
	_, stillSleeping := indexOf(coll.sleeping, m)
	_, nowRunning := indexOf(coll.running, m)
	coll.mu.Unlock()
	if stillSleeping {
		t.Fatal("mutator still in sleeping list after Wake")
	}
	if !nowRunning {
		t.Fatal("mutator not back in running list after Wake")
	}
}

func indexOf(s []Mutator, m Mutator) (int, bool) {
	for i, x := range s {
		if x == m {
			return i, true
		}
	}
	return -1, false
}
