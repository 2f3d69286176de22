package gc

import (
	"github.com/zephyrtronium/contains"

	"github.com/zephyrtronium/prask/internal/value"
)

// NurseryCollect performs spec.md §4.3's per-fiber Cheney-style pass: a
// fresh nursery is allocated, every object reachable from the mutator's
// roots (its value stack; see Mutator.RootSlots) is retained, and the old
// nursery's backing is dropped.
//
// Host-language note (see DESIGN.md): a literal Cheney copy relocates
// bytes and leaves forwarding pointers so stale references are
// redirected. Here, individual *value.Object values are ordinary,
// address-stable Go heap values — they never move — so "copying" an
// object reduces to re-registering it in the fresh nursery's live-byte
// accounting (Nursery.AdoptSurvivor) and letting the old chunk list (and
// whatever didn't survive) fall out of scope for Go's own collector to
// eventually reclaim. This preserves every externally observable
// property spec.md names (live-bytes accounting, idempotence, no
// shared-object-into-nursery dangling) without requiring forwarding
// pointers to fix up stale addresses that, in this adaptation, never
// exist in the first place.
func (c *Collector) NurseryCollect(m Mutator) {
	if c.NurseryBarrierOn() {
		return // spec.md §4.3: barrier raised during a shared-collect snapshot
	}
	n := m.Nursery()
	fresh := n.Reset()
	visited := contains.Set{}
	var walk func(obj value.Ref)
	walk = func(obj value.Ref) {
		if obj == nil || !visited.Add(obj.UniqueID()) {
			return
		}
		if loc, _ := obj.Location(); loc == nil && !c.Shared.Oversized(obj) {
			// Still nursery-resident (never promoted to the shared heap):
			// it survives into the fresh nursery.
			fresh.AdoptSurvivor(obj)
		}
		obj.Walk(walk)
	}
	for _, root := range m.RootSlots() {
		walk(root)
	}
	m.InstallNursery(fresh)
}
