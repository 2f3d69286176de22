// Package fiber implements the green-thread execution context (spec.md
// §4.4, C5): a cooperatively scheduled Fiber owns a value Stack, a
// private nursery, a frame stack, and the safepoint checkpoint counter
// that lets the collector stop the world.
//
// Grounded on the teacher's Coroutine/VM pairing (zephyrtronium-iolang's
// coroutine.go and vm.go): there, a Coroutine is the lightweight handle
// (a control channel plus a debug flag) and VM is the heavier execution
// context cloned per-coroutine via VMFor. Fiber here plays the VM role,
// generalized to spec.md's fiber semantics, and implements
// internal/gc.Mutator so the collector can manage it without importing
// this package.
package fiber

import (
	"sync/atomic"

	"github.com/zephyrtronium/prask/internal/gc"
	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/stack"
	"github.com/zephyrtronium/prask/internal/value"
)

// Frame is one call's activation record: the stack index its locals
// begin at, its argument count, and any deferred closures installed
// during its body (spec.md §4.2 "Defer").
type Frame struct {
	Base     int
	Argc     int
	Locals   int
	Defers   []func()
	Callable interface{} // the jit-compiled closure running this frame
}

// Fiber is one green thread of execution (spec.md §4.4). It is bound to
// exactly one OS worker thread at a time while Running, and otherwise
// sits in a scheduler run queue or the collector's sleeping partition.
type Fiber struct {
	ID uint64

	Stack   *stack.Stack
	nursery *heap.Nursery
	refList *gc.RefList
	coll    *gc.Collector

	frames []Frame
	links  []*Fiber // caller chain for nested fiber.spawn/await, if any

	color    uint32 // gc.ColorList, accessed atomically
	calls    uint32 // checkpoint counter, incremented every call (spec.md §4.6)
	interval uint32 // checkpoint interval before polling the collector

	// Result and Err hold the fiber's outcome once it has exited
	// (spec.md §4.4 "a fiber terminates by returning, raising an
	// unhandled exception, or being killed").
	Result value.Slot
	Err    error
	Done   bool
}

// New creates a fiber registered with coll, with a fresh nursery sized
// per SPEC_FULL.md's config-driven trigger.
func New(id uint64, coll *gc.Collector, shared *heap.SharedHeap, nurseryTrigger uint32, safepointInterval uint32) *Fiber {
	f := &Fiber{
		ID:       id,
		Stack:    stack.New(),
		nursery:  heap.NewNursery(shared, nurseryTrigger),
		refList:  &gc.RefList{},
		coll:     coll,
		interval: safepointInterval,
	}
	coll.Register(f)
	return f
}

// Mutator implementation (internal/gc.Mutator).

// RootSlots returns the heap references held in the value stack across
// all active frames; the value stack alone is the GC root set (spec.md
// §4.3 "trace from the fiber's roots"). Values captured by frames'
// deferred closures are not traced.
func (f *Fiber) RootSlots() []value.Ref {
	buf := make([]value.Ref, 0, f.Stack.Size())
	return f.Stack.Roots(buf)
}

// Nursery returns the fiber's private nursery.
func (f *Fiber) Nursery() *heap.Nursery { return f.nursery }

// InstallNursery swaps in a freshly collected nursery (post nursery-GC).
func (f *Fiber) InstallNursery(n *heap.Nursery) { f.nursery = n }

// RefList returns the fiber's SATB write-barrier queue.
func (f *Fiber) RefList() *gc.RefList { return f.refList }

// Color returns the fiber's sleeping-partition color.
func (f *Fiber) Color() gc.ColorList { return gc.ColorList(atomic.LoadUint32(&f.color)) }

// SetColor sets the fiber's sleeping-partition color.
func (f *Fiber) SetColor(c gc.ColorList) { atomic.StoreUint32(&f.color, uint32(c)) }

// AtSafepoint blocks until any in-progress stop-the-world request
// clears. Its one call site is the per-call checkpoint in Checkpoint;
// channel and sleep operations do not call it.
func (f *Fiber) AtSafepoint() {
	f.coll.ParkUntilResumed()
}

// Checkpoint increments the call counter and polls the collector every
// interval calls (spec.md §4.6: "every 256 calls"). Emitted code calls
// this at function entry.
func (f *Fiber) Checkpoint() {
	n := atomic.AddUint32(&f.calls, 1)
	if f.interval == 0 {
		return
	}
	if n%f.interval == 0 && f.coll.StwRequested() {
		f.AtSafepoint()
	}
}

// PushFrame begins a new call activation at the stack's current argument
// base (spec.md §4.1 "base = len(stack) - argc - 1").
func (f *Fiber) PushFrame(argc, locals int, callable interface{}) *Frame {
	base := f.Stack.Base(argc)
	f.Stack.InitLocals(locals)
	f.frames = append(f.frames, Frame{Base: base, Argc: argc, Locals: locals, Callable: callable})
	return &f.frames[len(f.frames)-1]
}

// CurrentFrame returns the innermost active frame, or nil if none.
func (f *Fiber) CurrentFrame() *Frame {
	if len(f.frames) == 0 {
		return nil
	}
	return &f.frames[len(f.frames)-1]
}

// Defer registers a closure to run when the current frame unwinds
// (spec.md §4.2 "Defer": "closures registered ... run in reverse order
// of registration when the enclosing function returns, raises, or is
// killed").
func (f *Fiber) Defer(closure func()) {
	fr := f.CurrentFrame()
	if fr == nil {
		return
	}
	fr.Defers = append(fr.Defers, closure)
}

// PopFrame runs the current frame's deferred closures in reverse
// registration order, then truncates the value stack back to the
// frame's base, per spec.md §4.2 and §4.1.
func (f *Fiber) PopFrame() {
	n := len(f.frames)
	if n == 0 {
		return
	}
	fr := f.frames[n-1]
	for i := len(fr.Defers) - 1; i >= 0; i-- {
		fr.Defers[i]()
	}
	f.frames = f.frames[:n-1]
	f.Stack.PopFrame(fr.Base)
}

// Recur reuses the current frame for a tail call (spec.md §4.1
// "Recur"), shifting the new argument values down to the frame's base
// without growing the Go call stack.
func (f *Fiber) Recur(argc, locals int) {
	fr := f.CurrentFrame()
	if fr == nil {
		return
	}
	f.Stack.Recur(fr.Base, argc, locals)
	fr.Argc = argc
	fr.Locals = locals
}

// Exit marks the fiber finished with a result or error and unregisters
// it from the collector (spec.md §4.4 fiber termination).
func (f *Fiber) Exit(result value.Slot, err error) {
	f.Result, f.Err, f.Done = result, err, true
	f.coll.Unregister(f)
}
