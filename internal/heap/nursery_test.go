package heap

import (
	"testing"

	"github.com/zephyrtronium/prask/internal/value"
)

var nurseryTestDesc = &value.TypeDesc{Name: "nursery-test"}

// TestNurseryOverThreshold checks the live-bytes trigger spec.md §4.6's
// gcDriver polls against.
func TestNurseryOverThreshold(t *testing.T) {
	shared := NewSharedHeap()
	n := NewNursery(shared, 100)
	if n.OverThreshold() {
		t.Fatal("empty nursery reports over threshold")
	}
	for i := 0; i < 10; i++ {
		n.Alloc(value.NewObject(nurseryTestDesc, 16))
	}
	if !n.OverThreshold() {
		t.Fatalf("LiveBytes() = %d, trigger = 100, want OverThreshold true", n.LiveBytes())
	}
}

// TestNurseryAllocMinimumSize checks Alloc's documented 16-byte floor
// (spec.md §4.2: "no chunk has 16 bytes of headroom").
func TestNurseryAllocMinimumSize(t *testing.T) {
	shared := NewSharedHeap()
	n := NewNursery(shared, DefaultNurseryTrigger)
	n.Alloc(value.NewObject(nurseryTestDesc, 4))
	if n.LiveBytes() != 16 {
		t.Fatalf("LiveBytes() after one 4-byte alloc = %d, want 16", n.LiveBytes())
	}
}

// TestNurseryObjectsReturnsEveryResident checks that Objects flattens
// every chunk's contents, exercising growChunk's multi-chunk path.
func TestNurseryObjectsReturnsEveryResident(t *testing.T) {
	shared := NewSharedHeap()
	n := NewNursery(shared, DefaultNurseryTrigger)
	const count = 5000 // forces at least one growChunk beyond MinChunkBytes
	for i := 0; i < count; i++ {
		n.Alloc(value.NewObject(nurseryTestDesc, 64))
	}
	objs := n.Objects()
	if len(objs) != count {
		t.Fatalf("Objects() returned %d objects, want %d", len(objs), count)
	}
}

// TestNurseryResetStartsEmpty checks Reset's replacement nursery shares
// the trigger but starts with zero live bytes.
func TestNurseryResetStartsEmpty(t *testing.T) {
	shared := NewSharedHeap()
	n := NewNursery(shared, 500)
	n.Alloc(value.NewObject(nurseryTestDesc, 64))
	fresh := n.Reset()
	if fresh.LiveBytes() != 0 {
		t.Fatalf("Reset() nursery LiveBytes() = %d, want 0", fresh.LiveBytes())
	}
	if fresh.trigger != n.trigger {
		t.Fatalf("Reset() nursery trigger = %d, want %d", fresh.trigger, n.trigger)
	}
}

// TestNurseryAdoptSurvivor checks the Cheney-copy re-insertion path
// behaves like an ordinary Alloc.
func TestNurseryAdoptSurvivor(t *testing.T) {
	shared := NewSharedHeap()
	n := NewNursery(shared, DefaultNurseryTrigger)
	obj := value.NewObject(nurseryTestDesc, 32)
	n.AdoptSurvivor(obj)
	if n.LiveBytes() != 32 {
		t.Fatalf("LiveBytes() after AdoptSurvivor = %d, want 32", n.LiveBytes())
	}
	objs := n.Objects()
	if len(objs) != 1 || objs[0] != obj {
		t.Fatal("AdoptSurvivor did not register obj in the nursery's object list")
	}
}
