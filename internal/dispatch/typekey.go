package dispatch

import "github.com/zephyrtronium/prask/internal/value"

// TypeKey is the dispatch-relevant projection of an argument slot: its
// primitive Kind, plus its concrete TypeDesc when the slot is a
// HEAP_REF. spec.md §4.5 distinguishes "kind" (e.g. any heap-ref vs.
// int64) from "type" (a specific user-visible type) as two distinct
// dispatch granularities: "consulting four tables in order: (kind,kind),
// (type,kind), (kind,type), (type,type)".
type TypeKey struct {
	Kind value.Kind
	Desc *value.TypeDesc
}

// KeyOf projects a Slot to its TypeKey.
func KeyOf(s value.Slot) TypeKey {
	if s.IsHeapRef() {
		return TypeKey{Kind: value.HEAP_REF, Desc: s.HeapObject().Desc}
	}
	return TypeKey{Kind: s.Kind}
}

// KindOnly drops the Desc, yielding the "kind" half of a dispatch key:
// any heap-ref collapses to the same bucket regardless of concrete type.
func (k TypeKey) KindOnly() TypeKey { return TypeKey{Kind: k.Kind} }
