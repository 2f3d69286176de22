package gc

import (
	"sync"

	"github.com/zephyrtronium/prask/internal/value"
)

// RefList is a mutator-private SATB write-barrier queue (spec.md §4.3
// "Write barrier (C3)"). Each fiber owns exactly one; see internal/fiber.
type RefList struct {
	mu    sync.Mutex
	items []value.Ref
}

// Enqueue appends a reference to the list. The SATB barrier enqueues
// both the old and new value of an overwritten heap-reference field
// (spec.md: "enqueues both the old value and the new value").
func (r *RefList) Enqueue(refs ...value.Ref) {
	r.mu.Lock()
	r.items = append(r.items, refs...)
	r.mu.Unlock()
}

// Drain removes and returns every queued reference. Idempotent: draining
// an empty list returns nil, and draining twice in a row without an
// intervening Enqueue yields the same (empty) result both times, which
// is the write-barrier-idempotence property in spec.md §8.
func (r *RefList) Drain() []value.Ref {
	r.mu.Lock()
	items := r.items
	r.items = nil
	r.mu.Unlock()
	return items
}

// WriteBarrier performs the SATB store-barrier check for `*field = to`
// where field lives in a shared-heap object. When the collector's
// barrier is active, the pre-image (old) and the new value are both
// recorded so concurrent mark never loses an object that was only
// reachable through a since-overwritten pointer.
//
// It also implements the promotion rule (spec.md §4.3 "assignment of a
// local (nursery) reference into a shared object triggers a promotion of
// that reference's transitive closure into the shared heap"): if to is
// still nursery-resident, Promote copies its closure into the shared
// heap first and the barrier records the promoted (shared) copy.
func (c *Collector) WriteBarrier(rl *RefList, old, to value.Ref, toIsNursery bool, promote func(value.Ref) value.Ref) value.Ref {
	if toIsNursery && to != nil {
		to = promote(to)
	}
	if c.BarrierOn() {
		rl.Enqueue(old, to)
	}
	return to
}
