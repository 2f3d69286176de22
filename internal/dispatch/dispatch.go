// Package dispatch implements the apply/dispatch protocol (spec.md
// §4.5, C8): per-call-site inline caching with static, single-argument,
// and binary-argument dispatch kinds.
//
// Grounded on the teacher's optable.go/object.go combination
// (zephyrtronium-iolang): there, an Io "operator table" resolves a
// message send to a slot by walking the proto chain once and caching
// nothing per call site; prask instead caches the *resolved* method
// pointer directly on the call site (an inline cache), matching spec.md
// §4.5's "every call site stores the most-recently-resolved target."
// Hash-bucket lookups in the binary-dispatch tables use
// github.com/zeebo/xxh3 (pulled in by the chazu-maggie pack repo),
// replacing a plain Go map the way a systems-language rewrite would hand
// -roll its own hash table rather than reach for a language-level map.
package dispatch

import (
	"sync/atomic"

	"github.com/zephyrtronium/prask/internal/value"
)

// Code is a runtime helper's return status (spec.md §4.5 "Calling
// convention"): 0 continue, <0 mis-dispatch/retry, 1 return-from-function,
// >1 exit the JIT back to the trampoline with a status.
type Code int

const (
	// Continue: keep executing the compiled function's next emitted
	// sequence.
	Continue Code = 0
	// MisDispatch: the call site's cached target rejected this
	// invocation's argument shapes; re-resolve and retry.
	MisDispatch Code = -1
	// ReturnFromFunction: unwind the current function normally.
	ReturnFromFunction Code = 1
	// ExitEarly, ExitException, ExitBlock are exits back into the
	// trampoline (spec.md §4.5's 2/3/4 status codes).
	ExitEarly     Code = 2
	ExitException Code = 3
	ExitBlock     Code = 4
)

// Method is a dispatch target: a compiled or built-in function body. Args
// holds the callable plus its arguments in value-stack order (spec.md
// §4.1's base/argc addressing); the Method reports its Code the same way
// any JIT-emitted runtime helper does.
type Method func(args []Slot) (Slot, Code)

// Slot aliases internal/value.Slot so call sites pass real Slot values
// with zero conversion cost; see typekey.go for the dispatch-key
// projection used by the Single/Binary tables.
type Slot = value.Slot

// Kind is the dispatch-site arity/shape discriminator (spec.md §4.5
// "Dispatch kinds").
type Kind int

const (
	Static Kind = iota
	Single
	Binary
)

// CallSite is an Apply node's cached dispatch target (spec.md §3 "Call
// site (Apply node)"): "Carries an atomic target field holding a cached
// dispatched method pointer, initialized to a bootstrap resolve
// implementation."
type CallSite struct {
	kind   Kind
	target atomic.Value // holds Method

	resolve func(args []Slot) (Method, bool) // unused: no constructor sets it and bootstrap never calls it

	staticMethod Method
	singleTable  *table1
	binaryTables [4]*table2 // (kind,kind), (type,kind), (kind,type), (type,type), in lookup order
}

// NewStaticCallSite builds a call site whose dispatch never varies by
// argument type (spec.md §4.5 "Static: one implementation regardless of
// argument types. Validated only by identity of the callable.").
func NewStaticCallSite(m Method) *CallSite {
	cs := &CallSite{kind: Static, staticMethod: m}
	cs.target.Store(m)
	return cs
}

// NewSingleCallSite builds a call site that dispatches on the type of
// argument 1 (spec.md §4.5 "Single").
func NewSingleCallSite() *CallSite {
	cs := &CallSite{kind: Single, singleTable: newTable1()}
	cs.target.Store(Method(cs.bootstrap))
	return cs
}

// NewBinaryCallSite builds a call site that dispatches on the pair
// (type-or-kind of arg 1, type-or-kind of arg 2), consulting
// (kind,kind), (type,kind), (kind,type), (type,type) in that order
// (spec.md §4.5 "Binary").
func NewBinaryCallSite() *CallSite {
	cs := &CallSite{kind: Binary}
	for i := range cs.binaryTables {
		cs.binaryTables[i] = newTable2()
	}
	cs.target.Store(Method(cs.bootstrap))
	return cs
}

// InstallSingle registers a method for a Single call site's argument-1 type.
func (cs *CallSite) InstallSingle(k TypeKey, m Method) { cs.singleTable.put(k, m) }

// InstallBinary registers a method for a Binary call site's argument
// pair, at the given table precedence index (0..3, matching the
// (kind,kind)/(type,kind)/(kind,type)/(type,type) order).
func (cs *CallSite) InstallBinary(table int, a, b TypeKey, m Method) {
	cs.binaryTables[table].put(a, b, m)
}

// Target returns the currently cached method, for the retry path the
// emitted code takes after a mis-dispatch (spec.md §4.5: "the retry hits
// the cached pointer directly").
func (cs *CallSite) Target() Method { return cs.target.Load().(Method) }

// Invoke calls the cached target. Callers (internal/jit's Apply-node
// sequence) must retry Invoke whenever it returns MisDispatch, per
// spec.md: "handle mis-dispatch by retrying."
func (cs *CallSite) Invoke(args []Slot) (Slot, Code) {
	return cs.Target()(args)
}

// bootstrap is the initial target for Single/Binary call sites: it
// resolves the real method from the appropriate table, installs it, and
// returns MisDispatch so the emitted retry hits the now-cached pointer
// directly (spec.md §4.5 "installs that pointer into target, and returns
// <0 to cause the emitted code to retry").
func (cs *CallSite) bootstrap(args []Slot) (Slot, Code) {
	var m Method
	var ok bool
	switch cs.kind {
	case Single:
		if len(args) < 2 {
			return Slot{}, ReturnFromFunction
		}
		m, ok = cs.singleTable.get(KeyOf(args[1]))
	case Binary:
		if len(args) < 3 {
			return Slot{}, ReturnFromFunction
		}
		a, b := KeyOf(args[1]), KeyOf(args[2])
		m, ok = lookupBinary(cs.binaryTables, a, b)
	default:
		return Slot{}, ReturnFromFunction
	}
	if !ok {
		return Slot{}, ReturnFromFunction // NotDefinedForArgumentTypes, see internal/runtime
	}
	cs.target.Store(m)
	return Slot{}, MisDispatch
}

// lookupBinary consults the four tables in precedence order
// (kind,kind) -> (type,kind) -> (kind,type) -> (type,type), first hit
// wins, per spec.md §4.5.
func lookupBinary(tables [4]*table2, a, b TypeKey) (Method, bool) {
	kindOnlyA, kindOnlyB := a.KindOnly(), b.KindOnly()
	if m, ok := tables[0].get(kindOnlyA, kindOnlyB); ok {
		return m, true
	}
	if m, ok := tables[1].get(a, kindOnlyB); ok {
		return m, true
	}
	if m, ok := tables[2].get(kindOnlyA, b); ok {
		return m, true
	}
	return tables[3].get(a, b)
}

// MarkMisdispatched reinstalls the bootstrap resolver as a call site's
// target, for the "type shape change" case (spec.md §4.5 "On type shape
// change, the installed target returns <0 and the dispatch helper runs
// again"). Built-in methods that detect their argument shapes no longer
// match should return MisDispatch and call this before the caller
// retries.
func (cs *CallSite) MarkMisdispatched() {
	if cs.kind != Static {
		cs.target.Store(Method(cs.bootstrap))
	}
}
