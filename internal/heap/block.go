// Package heap implements the two-tier heap described in spec.md §4.2
// (C2): a private per-fiber bump-pointer nursery, and a shared,
// size-classed, bitmap-tracked slab heap. See DESIGN.md for the
// host-language adaptation note: rather than manual byte-level memory
// management (unsafe, raw pointer arithmetic — both a poor fit for
// idiomatic Go and unnecessary for correctness here), blocks hold real
// *value.Object slots and Go's own allocator backs every individual
// object. The bitmaps, size classes, free-lists, and block-full
// bookkeeping are maintained exactly as spec.md describes, so the
// collector's algorithm (internal/gc) is faithful to spec even though
// the underlying bytes are not literally a 1 MiB mmap'd page.
package heap

import (
	"math/bits"
	"sync"

	"github.com/zephyrtronium/prask/internal/value"
)

// SlotsPerBlock is the fixed object capacity of a Block, independent of
// size class: 8 sixty-four-bit bitmap words give exactly 512 trackable
// slots, per spec.md §3 "Block" ("8 × 64-bit alloc bitmap words").
const SlotsPerBlock = 512

const bitmapWords = SlotsPerBlock / 64

// Block is a single size-classed shared-heap unit (spec.md §3 "Block").
// A block holds objects of exactly one size class.
type Block struct {
	mu sync.Mutex

	class int // index into SharedHeap.classes

	alloc     [bitmapWords]uint64
	mark      [bitmapWords]uint64
	finalizer [bitmapWords]uint64
	// fullSummary has one bit per bitmap word set when that word is
	// entirely allocated (0xFFFFFFFFFFFFFFFF), accelerating the
	// first-clear-bit search (spec.md §4.2 "accelerated by the 8-bit
	// full-word-summary").
	fullSummary uint8

	slots [SlotsPerBlock]*value.Object

	// dirtyMask tracks which sweep-cycle parity this block was last swept
	// under (spec.md §4.3 step 7 "the dirty-mask bit is flipped").
	dirtyMask uint32

	next, prev *Block // intrusive list links within one of head/rest/full/empty
}

// Class returns the block's size class index.
func (b *Block) Class() int { return b.class }

// used returns popcount(alloc), the invariant spec.md §3 names explicitly.
func (b *Block) used() int {
	n := 0
	for _, w := range b.alloc {
		n += bits.OnesCount64(w)
	}
	return n
}

// Used reports the number of live slots, taking the block's lock.
func (b *Block) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used()
}

// firstFree finds the index of the first clear bit in alloc, using
// fullSummary to skip entirely-full words. Returns -1 if the block is
// full. Caller must hold b.mu.
func (b *Block) firstFree() int {
	for w := 0; w < bitmapWords; w++ {
		if b.fullSummary&(1<<uint(w)) != 0 {
			continue
		}
		word := b.alloc[w]
		if word == ^uint64(0) {
			b.fullSummary |= 1 << uint(w)
			continue
		}
		bit := bits.TrailingZeros64(^word)
		return w*64 + bit
	}
	return -1
}

// tryAlloc installs obj into the first free slot, returning its index, or
// -1 if the block is full. Caller must hold b.mu via Alloc.
func (b *Block) tryAlloc(obj *value.Object) int {
	idx := b.firstFree()
	if idx < 0 {
		return -1
	}
	w, bit := idx/64, uint(idx%64)
	b.alloc[w] |= 1 << bit
	if obj.HasFinalizer() {
		b.finalizer[w] |= 1 << bit
	}
	b.slots[idx] = obj
	if b.alloc[w] == ^uint64(0) {
		b.fullSummary |= 1 << uint(w)
	}
	return idx
}

// Alloc installs obj into the block if it has room. Reports success.
func (b *Block) Alloc(obj *value.Object) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryAlloc(obj) >= 0
}

// Full reports whether every bitmap word is saturated, i.e.
// fullSummary's low bitmapWords bits are all set.
func (b *Block) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fullSummary == (1<<bitmapWords)-1
}

// Empty reports that no slot is allocated.
func (b *Block) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used() == 0
}

// Mark sets the mark bit for the slot holding obj. It is the collector's
// atomic-OR step (spec.md §4.3 step 3 "Marks are atomic OR into the
// block's mark bitmap").
func (b *Block) Mark(idx int) {
	w, bit := idx/64, uint(idx%64)
	for {
		old := loadWord(&b.mark[w])
		if old&(1<<bit) != 0 {
			return
		}
		if casWord(&b.mark[w], old, old|(1<<bit)) {
			return
		}
	}
}

// IsMarked reports the mark bit for a slot index.
func (b *Block) IsMarked(idx int) bool {
	w, bit := idx/64, uint(idx%64)
	return loadWord(&b.mark[w])&(1<<bit) != 0
}

// Sweep implements spec.md §4.3 step 7 for one block: copy mark→alloc,
// run finalizers for (alloc &^ mark & finalizer), clear marks, and
// recompute fullSummary. Returns the objects whose finalizers fired, for
// the caller to invoke (finalizers must not allocate from the shared
// heap, so they are run with the block unlocked).
func (b *Block) Sweep() []*value.Object {
	b.mu.Lock()
	var finalize []*value.Object
	for w := 0; w < bitmapWords; w++ {
		dead := b.alloc[w] &^ b.mark[w] & b.finalizer[w]
		for dead != 0 {
			bit := bits.TrailingZeros64(dead)
			dead &= dead - 1
			idx := w*64 + bit
			if obj := b.slots[idx]; obj != nil {
				finalize = append(finalize, obj)
			}
		}
		// Reclaim every unmarked slot, finalized or not.
		reclaimed := b.alloc[w] &^ b.mark[w]
		for reclaimed != 0 {
			bit := bits.TrailingZeros64(reclaimed)
			reclaimed &= reclaimed - 1
			b.slots[w*64+bit] = nil
		}
		b.alloc[w] = b.mark[w]
		b.mark[w] = 0
		b.finalizer[w] &= b.alloc[w]
		if b.alloc[w] == ^uint64(0) {
			b.fullSummary |= 1 << uint(w)
		} else {
			b.fullSummary &^= 1 << uint(w)
		}
	}
	b.mu.Unlock()
	return finalize
}

// ForEachLive calls f for every currently-allocated slot. Used by mark
// tracing fallback and by tests asserting invariants.
func (b *Block) ForEachLive(f func(obj *value.Object, idx int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := 0; w < bitmapWords; w++ {
		word := b.alloc[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			word &= word - 1
			idx := w*64 + bit
			if obj := b.slots[idx]; obj != nil {
				f(obj, idx)
			}
		}
	}
}

// DirtyMask returns the block's last-swept-cycle parity bit.
func (b *Block) DirtyMask() uint32 { return b.dirtyMask }

// SetDirtyMask records which cycle parity last swept this block.
func (b *Block) SetDirtyMask(v uint32) { b.dirtyMask = v }
