// Package value implements the tagged variant slot that is the
// universal currency of the runtime: every value stack slot, frame local,
// argument, and AST literal is one of these. See SPEC_FULL.md §3 "Value
// slot" (C1).
//
// The layout is grounded on the teacher's Object/Tag split
// (zephyrtronium-iolang internal/object.go): there, every Io value is a
// pointer to a *Object carrying an interface{} payload and a Tag. Here we
// generalize one step further so that small primitives (ints, floats,
// bools) never need a heap allocation at all: a slot holds either a
// primitive or a heap reference rather than always a pointer. A Slot is
// 24 bytes on a 64-bit platform (see Slot).
package value

import "math"

// Kind discriminates the payload held by a Slot.
type Kind uint8

const (
	// UNDEF is the zero Kind: an uninitialized local or a deliberately
	// absent value.
	UNDEF Kind = iota
	// INT64 holds a signed 64-bit integer directly in the payload.
	INT64
	// BOOL holds a boolean directly in the payload.
	BOOL
	// FLOAT64 holds an IEEE-754 double directly in the payload (bit-cast
	// into the same 64-bit payload word as INT64).
	FLOAT64
	// HEAP_REF holds an absolute pointer to a collectable object.
	HEAP_REF
)

// String returns the Kind's name, used in diagnostics and dispatch-table
// keys (see internal/dispatch).
func (k Kind) String() string {
	switch k {
	case UNDEF:
		return "UNDEF"
	case INT64:
		return "INT64"
	case BOOL:
		return "BOOL"
	case FLOAT64:
		return "FLOAT64"
	case HEAP_REF:
		return "HEAP_REF"
	default:
		return "Kind(?)"
	}
}

// Ref is the payload of a HEAP_REF slot: an opaque pointer to a
// collectable object, plus a shared-vs-local discriminator bit test
// described in SPEC_FULL.md / spec.md §4.2. The Collector owns the actual
// bit convention (see internal/heap); Ref only carries the pointer.
type Ref = *Object

// Slot is the tagged variant. Three machine words (24 bytes on a 64-bit
// platform): the discriminant travels in Kind, the INT64/BOOL/FLOAT64
// payload in a uint64 word, and a HEAP_REF's pointer in a separate ref
// field (Kind is a byte, but the struct is word-aligned so slices
// of Slot are scannable in fixed strides by both Go's GC, for the Go-level
// objects a Slot can point to, and our own GC when walking a value stack
// by kind-tag, per spec.md's explicit "no precise stack maps; GC scans the
// value stack by kind-tag" non-goal).
type Slot struct {
	Kind    Kind
	payload uint64
	ref     Ref
}

// Undef is the canonical UNDEF slot.
var Undef = Slot{Kind: UNDEF}

// Int returns an INT64 slot.
func Int(v int64) Slot { return Slot{Kind: INT64, payload: uint64(v)} }

// Bool returns a BOOL slot.
func Bool(v bool) Slot {
	var p uint64
	if v {
		p = 1
	}
	return Slot{Kind: BOOL, payload: p}
}

// Float returns a FLOAT64 slot.
func Float(v float64) Slot { return Slot{Kind: FLOAT64, payload: math.Float64bits(v)} }

// HeapRef returns a HEAP_REF slot wrapping a collectable object. Panics
// if obj is nil; use Undef for "no value" instead of a nil heap ref, so
// that every GC-scanned slot is well-formed per spec.md's invariant.
func HeapRef(obj Ref) Slot {
	if obj == nil {
		panic("value: HeapRef requires a non-nil object")
	}
	return Slot{Kind: HEAP_REF, ref: obj}
}

// Int64 returns the slot's integer payload. Panics if Kind != INT64.
func (s Slot) Int64() int64 {
	s.mustKind(INT64)
	return int64(s.payload)
}

// BoolVal returns the slot's boolean payload. Panics if Kind != BOOL.
func (s Slot) BoolVal() bool {
	s.mustKind(BOOL)
	return s.payload != 0
}

// Float64 returns the slot's float payload. Panics if Kind != FLOAT64.
func (s Slot) Float64() float64 {
	s.mustKind(FLOAT64)
	return math.Float64frombits(s.payload)
}

// HeapObject returns the slot's heap reference. Panics if Kind != HEAP_REF.
func (s Slot) HeapObject() Ref {
	s.mustKind(HEAP_REF)
	return s.ref
}

// IsHeapRef reports whether the slot carries a heap reference, i.e.
// whether the GC must trace it.
func (s Slot) IsHeapRef() bool { return s.Kind == HEAP_REF }

func (s Slot) mustKind(k Kind) {
	if s.Kind != k {
		panic("value: slot kind mismatch: have " + s.Kind.String() + ", want " + k.String())
	}
}

// ToBool converts any slot to a boolean the way the runtime's coercion
// helper (the Branch node, spec.md §4.5) does: UNDEF and a false BOOL are
// false, everything else (including an INT64 zero!) is true. This mirrors
// the original's `to_index on booleans` open question (spec.md §9): we do
// not special-case kinds beyond what spec.md actually requires, so a
// FLOAT64 NaN is still "true" here, matching the source's permissive
// coercion rather than silently tightening it.
func (s Slot) ToBool() bool {
	switch s.Kind {
	case UNDEF:
		return false
	case BOOL:
		return s.payload != 0
	default:
		return true
	}
}

// ToIndex converts a slot to an integer the way an array/vector index
// coercion would. Per spec.md §9 Open Question "to_index on booleans",
// booleans silently convert to 0/1 here — this is the documented quirk,
// preserved rather than fixed.
func (s Slot) ToIndex() (int64, bool) {
	switch s.Kind {
	case INT64:
		return s.Int64(), true
	case BOOL:
		if s.BoolVal() {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
