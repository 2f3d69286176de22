package heap

import (
	"github.com/zephyrtronium/prask/internal/value"
)

// Nursery chunk sizing bounds from spec.md §4.2 ("chunks of 512..65536
// bytes") and the nursery-collect trigger from §4.3 ("~4 MiB" live-byte
// estimate).
const (
	MinChunkBytes        = 512
	MaxChunkBytes         = 65536
	DefaultNurseryTrigger = 4 << 20
)

// chunk is a bump-pointer arena. objects is the logical bump list: since
// individual *value.Object values are ordinary Go allocations (see the
// package doc comment for the host-language rationale), "bumping the
// pointer" is modeled as appending to this slice and tracking used bytes,
// which is what every size/threshold decision in spec.md actually keys
// off of.
type chunk struct {
	capacity uint32
	used     uint32
	objects  []*value.Object
}

func (c *chunk) headroom() uint32 { return c.capacity - c.used }

// Nursery is a fiber-private bump-allocated region (spec.md §3 "Private
// nursery", §4.2 "Nursery"). It is accessed only by the thread currently
// bound to the owning fiber (spec.md §5 shared-resource policy), so it
// needs no internal locking.
type Nursery struct {
	shared  *SharedHeap
	chunks  []*chunk
	liveBytes uint32
	trigger uint32
}

// NewNursery constructs an empty nursery holding a reference to shared,
// with the given bytes-in-use trigger for collection. Chunks are not
// taken from shared (see growChunk).
func NewNursery(shared *SharedHeap, trigger uint32) *Nursery {
	if trigger == 0 {
		trigger = DefaultNurseryTrigger
	}
	return &Nursery{shared: shared, trigger: trigger}
}

// Alloc installs obj (already sized, minimum 16 bytes) into the first
// chunk with headroom for it, growing the chunk list with growChunk if
// none has. The new chunk is a plain Go allocation; it is not taken from
// a shared-heap block.
func (n *Nursery) Alloc(obj *value.Object) {
	size := obj.Size()
	if size < 16 {
		size = 16
	}
	for _, c := range n.chunks {
		if c.headroom() >= size {
			c.objects = append(c.objects, obj)
			c.used += size
			n.liveBytes += size
			return
		}
	}
	c := n.growChunk(size)
	c.objects = append(c.objects, obj)
	c.used += size
	n.liveBytes += size
}

// growChunk allocates a new chunk sized between MinChunkBytes and
// MaxChunkBytes, at least large enough for need bytes, and links it in.
func (n *Nursery) growChunk(need uint32) *chunk {
	cap := MinChunkBytes
	for uint32(cap) < need && cap < MaxChunkBytes {
		cap *= 2
	}
	if uint32(cap) < need {
		cap = int(need)
	}
	c := &chunk{capacity: uint32(cap)}
	n.chunks = append(n.chunks, c)
	return c
}

// LiveBytes returns the nursery's current live-bytes estimate, compared
// against its trigger by OverThreshold, which internal/runtime's gcDriver
// polls; safepoint checkpoints do not check it.
func (n *Nursery) LiveBytes() uint32 { return n.liveBytes }

// OverThreshold reports whether the nursery should be collected.
func (n *Nursery) OverThreshold() bool { return n.liveBytes >= n.trigger }

// Objects returns every object currently resident in the nursery, for the
// collector's Cheney trace (internal/gc). The slice is the collector's to
// read only; it must not retain it past the collection.
func (n *Nursery) Objects() []*value.Object {
	all := make([]*value.Object, 0, n.liveBytes/16)
	for _, c := range n.chunks {
		all = append(all, c.objects...)
	}
	return all
}

// Reset discards all chunks (after a successful collection has copied
// every live object elsewhere) and returns a replacement Nursery sharing
// the same shared-heap backing and trigger, per spec.md §4.3 "release the
// old nursery chunks".
func (n *Nursery) Reset() *Nursery {
	return NewNursery(n.shared, n.trigger)
}

// AdoptSurvivor re-inserts a copied survivor object into the fresh
// nursery's accounting during a Cheney collection pass.
func (n *Nursery) AdoptSurvivor(obj *value.Object) {
	n.Alloc(obj)
}
