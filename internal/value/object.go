package value

import "sync/atomic"

// Object is the single concrete representation of every heap-allocated
// collectable value (spec.md §3 "Collectable object"). It is the
// generalization of the teacher's Tag interface
// (zephyrtronium-iolang internal/object.go): there a Tag.Activate/
// CloneValue pair dispatches behavior for an *Object's primitive value;
// here the same split is expressed directly as a small vtable per
// spec.md's Design Notes §9 recommendation ("a sum type with dynamic
// dispatch on a small virtual table").
//
// Object is a struct, not an interface: every collectable kind (functions,
// vectors, structs, channels, dates) is an *Object told apart by its Desc
// and Payload. The GC (internal/gc) touches objects only through Object's
// methods.
type Object struct {
	// header is the GC's private bookkeeping: size class, finalizer bit,
	// mark state. Mutators never touch it directly.
	header ObjectHeader
	// Desc is the type descriptor used by dispatch (C8) to resolve method
	// tables, and by Walk to know how to trace payload-specific
	// references that aren't stored generically.
	Desc *TypeDesc
	// Payload is the object's type-specific data. For composite types
	// (vectors, maps) this holds a slice/map of Slot; for functions it
	// holds a *jit.FunctionValue, the compiled body plus its captured
	// upvalues (opaque here to avoid an import cycle; internal/jit
	// type-asserts Payload against the concrete type).
	Payload interface{}
	// Refs is the flat list of outgoing heap references this object owns,
	// kept alongside Payload so that Walk never needs reflection. Kept in
	// sync by the Payload's owner (vectors/maps append/overwrite it on
	// every mutation; see spec.md §4.3's SATB promotion-on-store rule).
	Refs []Ref

	// id is a process-wide unique identity, used as a dedup key during
	// graph traversal (mark, IsKindOf-style closure walks) instead of
	// hashing the pointer itself. Grounded on the teacher's nextObject()
	// counter (zephyrtronium-iolang internal/object.go).
	id uintptr

	// loc and locIdx record the object's shared-heap location once
	// promoted: loc holds a *heap.Block (stored as interface{} so this
	// package need not import internal/heap, which itself imports this
	// one). Both are nil/zero for nursery-resident and oversized objects,
	// which instead mark liveness via SetMarked.
	loc    interface{}
	locIdx int32
}

var objectCounter uint64

// NewObject allocates a fresh collectable object of the given size (in
// bytes) and type descriptor. The object starts out nursery-resident;
// callers that allocate directly into the shared heap call SetLocation
// once the heap assigns a block and slot.
func NewObject(desc *TypeDesc, size uint32) *Object {
	o := &Object{Desc: desc, id: nextObjectID()}
	o.SetSize(size)
	if desc != nil && desc.Finalize != nil {
		o.SetFinalizer(true)
	}
	return o
}

func nextObjectID() uintptr {
	return uintptr(atomic.AddUint64(&objectCounter, 1))
}

// UniqueID returns the object's process-wide identity, stable for its
// lifetime.
func (o *Object) UniqueID() uintptr { return o.id }

// SetLocation records the shared-heap block (opaque, see loc's doc
// comment) and slot index an object was promoted into.
func (o *Object) SetLocation(block interface{}, idx int32) {
	o.loc, o.locIdx = block, idx
}

// Location returns the shared-heap block (as interface{}, nil if the
// object has never been promoted) and slot index.
func (o *Object) Location() (block interface{}, idx int32) { return o.loc, o.locIdx }

// ObjectHeader is the GC-private 16-byte-ish bookkeeping area described in
// spec.md §3 ("Private nursery" object header: size, marked bit) and is
// also conceptually the per-object slice of a Block's bitmaps once the
// object is promoted to the shared heap. We keep it inline on Object
// (rather than only in the Block's bitmap words) so a still-in-nursery
// object is self-describing before it has a Block at all.
type ObjectHeader struct {
	// Size is the object's allocation size in bytes as given to
	// NewObject (it is not rounded to a size class); used by the
	// nursery's and shared heap's byte accounting and size-class routing.
	Size uint32
	// marked is accessed only via atomic helpers: concurrent mark sets it
	// with an atomic OR into the owning block's mark bitmap in the shared
	// heap, or directly here while still in a nursery.
	marked uint32
	// HasFinalizer is set at allocation time for objects whose Payload's
	// destructor is non-trivial (spec.md §4.3 "Finalizers").
	HasFinalizer bool
	// forward is a Cheney-style forwarding-pointer field (spec.md §4.3
	// "Nursery collect"). Nursery collection never sets it, since objects
	// do not move (see internal/gc/nursery_collect.go).
	forward Ref
}

// TypeDesc names a collectable kind and carries its method table for the
// Apply/dispatch protocol (C8) plus its finalizer function, if any.
// Equivalent in role to the teacher's Tag, generalized to a plain struct
// since prask has no per-value Clone-with-protos model (value types here
// are closed, not prototype-chained).
type TypeDesc struct {
	Name string
	// Finalize runs the type's destructor during sweep, for objects with
	// HasFinalizer set. Must not allocate from the shared heap (spec.md
	// §4.3 "Finalizers must not allocate from the shared heap").
	Finalize func(o *Object)
	// ReprString produces a debug/print representation (used by the
	// unhandled-error path in spec.md §7 "User-visible failure").
	ReprString func(o *Object) string
}

// Walk yields each outgoing heap reference this object owns, for the
// collector's tracing pass (spec.md §3 "a walk operation that yields each
// outgoing heap reference it owns").
func (o *Object) Walk(yield func(Ref)) {
	for _, r := range o.Refs {
		if r != nil {
			yield(r)
		}
	}
}

// HasFinalizer reports the finalizer bit set at allocation.
func (o *Object) HasFinalizer() bool { return o.header.HasFinalizer }

// Size returns the object's allocation size in bytes.
func (o *Object) Size() uint32 { return o.header.Size }

// SetSize is called once by the allocator at construction time.
func (o *Object) SetSize(n uint32) { o.header.Size = n }

// SetFinalizer sets the finalizer bit; called once by the allocator when
// Desc.Finalize is non-nil.
func (o *Object) SetFinalizer(b bool) { o.header.HasFinalizer = b }

// Marked reports whether the object's mark bit is set. For nursery
// objects (not yet assigned a Block), this reads the header's own bit
// directly; promoted objects instead consult the owning Block's mark
// bitmap (internal/heap), so Marked is only authoritative pre-promotion.
func (o *Object) Marked() bool { return atomic.LoadUint32(&o.header.marked) != 0 }

// SetMarked sets or clears the header-local mark bit. Used by the shared
// collector's mark and oversized sweep for objects with no Block;
// block-resident objects mark through the Block bitmap.
func (o *Object) SetMarked(b bool) {
	var v uint32
	if b {
		v = 1
	}
	atomic.StoreUint32(&o.header.marked, v)
}

// Forward returns the Cheney forwarding pointer, or nil if this copy is
// still live (not yet relocated).
func (o *Object) Forward() Ref { return o.header.forward }

// SetForward installs a forwarding pointer. No collector in this module
// calls it.
func (o *Object) SetForward(to Ref) { o.header.forward = to }
