package gc

import (
	"fmt"

	"github.com/zephyrtronium/contains"

	"github.com/zephyrtronium/prask/internal/value"
)

// Promote copies obj's transitive closure into the shared heap (spec.md
// §4.3: "assignment of a local (nursery) reference into a shared object
// triggers a promotion of that reference's transitive closure into the
// shared heap, preserving the no-pointers-from-shared-into-nursery
// invariant"). Children are promoted before their parent so that, the
// moment any object becomes shared-reachable, everything it points to
// already is too.
//
// As with NurseryCollect, "copying" here means registering the existing,
// address-stable *value.Object into a shared-heap Block (or the
// oversized path) rather than relocating bytes — see DESIGN.md.
func (c *Collector) Promote(obj value.Ref) value.Ref {
	if obj == nil {
		return nil
	}
	visited := contains.Set{}
	var rec func(o value.Ref)
	var firstErr error
	rec = func(o value.Ref) {
		if o == nil || !visited.Add(o.UniqueID()) {
			return
		}
		if loc, _ := o.Location(); loc != nil || c.Shared.Oversized(o) {
			return // already shared (or oversized-registered)
		}
		o.Walk(rec)
		if _, _, err := c.Shared.Alloc(o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	rec(obj)
	if firstErr != nil {
		// Promotion failure is the OutOfMemory fail mode from spec.md
		// §4.3. No package in this module recovers the panic.
		panic(fmt.Errorf("gc: promote: %w", firstErr))
	}
	return obj
}
