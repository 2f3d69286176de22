package jit

import (
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/value"
)

// BuiltinFunc is a compiled Builtin node's runtime implementation:
// arguments arrive pre-evaluated in source order (unlike dispatch.Method,
// no leading callable slot, since Builtin nodes name the operation
// directly rather than resolving it through a call site).
type BuiltinFunc func(args []value.Slot) (value.Slot, dispatch.Code)

// Builtins is the fixed table of names ast.Builtin nodes may reference
// (spec.md §6 "builtin") that are not part of spec.md §4.5's Binary
// dispatch kind — unary/logical operations with no operand-type cache to
// speak of. Both operands of and/or are evaluated before the call, so
// neither short-circuits. The two-operand arithmetic/comparison builtins
// (add, sub, ..., gte) instead go through a per-call-site
// dispatch.CallSite; see binaryOps and compileBuiltin below.
var Builtins = map[string]BuiltinFunc{
	"not": not,
	"and": logicalAnd,
	"or":  logicalOr,
}

// FiberBuiltinFunc is a Builtin node implementation that needs the
// calling fiber itself, not just its pre-evaluated arguments: channel
// send/recv, spawn, and sleep all suspend or fork the *current* fiber
// (spec.md §4.4), which dispatch.Method's and BuiltinFunc's fiber-less
// signatures cannot express. internal/runtime installs these at startup
// (it alone constructs the Collector and Scheduler these builtins close
// over); compileBuiltin checks the binary-dispatch table first, then
// Builtins, then falls back here.
type FiberBuiltinFunc func(f *fiber.Fiber, args []value.Slot) (value.Slot, dispatch.Code)

// FiberBuiltins is empty until internal/runtime populates it; a module
// compiled before that point and calling one of these names fails
// compileBuiltin's lookup as "unknown builtin", the same as any other
// unrecognized name.
var FiberBuiltins = map[string]FiberBuiltinFunc{}

// binaryImpl computes a two-operand builtin's result once the operand
// kinds are already known to match what this implementation was
// installed for.
type binaryImpl func(a, b value.Slot) value.Slot

// binaryOpSpec names the per-kind-pair implementation of a Binary-kind
// builtin (spec.md §4.5 "Binary: dispatch on the pair (kind-or-type of
// arg 1, kind-or-type of arg 2)"). Only INT64/FLOAT64 operand kinds are
// given implementations; any other pair is simply never installed, so
// dispatch.CallSite's bootstrap resolver reports it unresolved by
// returning (Undef, ReturnFromFunction), with no error value, instead
// of the old hand-checked code panicking on an unexpected Kind.
type binaryOpSpec struct {
	intInt, floatFloat, intFloat, floatInt binaryImpl
}

// numArith builds a spec for an arithmetic builtin that has a dedicated
// integer fast path (add, sub, mul): any pair involving a FLOAT64
// promotes both operands through fop, matching the teacher's Number
// primitives' int/float split (zephyrtronium-iolang's number.go).
func numArith(iop func(a, b int64) int64, fop func(a, b float64) float64) binaryOpSpec {
	mixed := func(a, b value.Slot) value.Slot { return value.Float(fop(toFloat(a), toFloat(b))) }
	return binaryOpSpec{
		intInt:     func(a, b value.Slot) value.Slot { return value.Int(iop(a.Int64(), b.Int64())) },
		floatFloat: mixed,
		intFloat:   mixed,
		floatInt:   mixed,
	}
}

// numUniform builds a spec for a builtin that applies the same
// operation to every numeric kind pair via float promotion (div, which
// does not special-case an all-integer pair in the teacher's original
// Number primitives either). The comparisons use numCompare instead.
func numUniform(fop func(a, b float64) float64) binaryOpSpec {
	impl := func(a, b value.Slot) value.Slot { return fop2Slot(fop, a, b) }
	return binaryOpSpec{intInt: impl, floatFloat: impl, intFloat: impl, floatInt: impl}
}

func fop2Slot(fop func(a, b float64) float64, a, b value.Slot) value.Slot {
	return value.Float(fop(toFloat(a), toFloat(b)))
}

func numCompare(pred func(c int) bool) binaryOpSpec {
	impl := func(a, b value.Slot) value.Slot {
		x, y := toFloat(a), toFloat(b)
		c := 0
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
		return value.Bool(pred(c))
	}
	return binaryOpSpec{intInt: impl, floatFloat: impl, intFloat: impl, floatInt: impl}
}

// binaryOps is grounded on the teacher's Number* primitive set
// (zephyrtronium-iolang's number.go), generalized to prask's tagged
// Slot representation and wired through the C8 inline cache instead of
// a hand-checked Kind switch inside the function body.
var binaryOps = map[string]binaryOpSpec{
	"add": numArith(func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }),
	"sub": numArith(func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }),
	"mul": numArith(func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }),
	"div": numUniform(func(a, b float64) float64 { return a / b }),
	"eq":  numCompare(func(c int) bool { return c == 0 }),
	"neq": numCompare(func(c int) bool { return c != 0 }),
	"lt":  numCompare(func(c int) bool { return c < 0 }),
	"lte": numCompare(func(c int) bool { return c <= 0 }),
	"gt":  numCompare(func(c int) bool { return c > 0 }),
	"gte": numCompare(func(c int) bool { return c >= 0 }),
}

var (
	intKey   = dispatch.TypeKey{Kind: value.INT64}
	floatKey = dispatch.TypeKey{Kind: value.FLOAT64}
)

// newBinaryCallSite builds one call site for one Builtin AST node
// (compileBuiltin calls this once per node, at compile time, so every
// occurrence of e.g. "add" in the source gets its own independent
// cache — spec.md §3 "every call site stores the most-recently-resolved
// target"). The four installed methods each re-check their operand
// kinds before computing a result: spec.md §4.5 "on type shape change,
// the installed target returns <0 and the dispatch helper runs again",
// and a stale method whose kinds no longer match must detect that
// itself, since the cache only remembers the last resolution, not every
// future caller's argument shapes.
func newBinaryCallSite(spec binaryOpSpec) *dispatch.CallSite {
	cs := dispatch.NewBinaryCallSite()
	install := func(a, b dispatch.TypeKey, impl binaryImpl) {
		cs.InstallBinary(0, a, b, func(args []value.Slot) (value.Slot, dispatch.Code) {
			if len(args) != 3 || args[1].Kind != a.Kind || args[2].Kind != b.Kind {
				cs.MarkMisdispatched()
				return value.Undef, dispatch.MisDispatch
			}
			return impl(args[1], args[2]), dispatch.Continue
		})
	}
	install(intKey, intKey, spec.intInt)
	install(floatKey, floatKey, spec.floatFloat)
	install(intKey, floatKey, spec.intFloat)
	install(floatKey, intKey, spec.floatInt)
	return cs
}

func toFloat(s value.Slot) float64 {
	if s.Kind == value.FLOAT64 {
		return s.Float64()
	}
	return float64(s.Int64())
}

func not(args []value.Slot) (value.Slot, dispatch.Code) {
	if len(args) != 1 {
		return value.Undef, dispatch.ReturnFromFunction
	}
	return value.Bool(!args[0].ToBool()), dispatch.Continue
}

func logicalAnd(args []value.Slot) (value.Slot, dispatch.Code) {
	if len(args) != 2 {
		return value.Undef, dispatch.ReturnFromFunction
	}
	return value.Bool(args[0].ToBool() && args[1].ToBool()), dispatch.Continue
}

func logicalOr(args []value.Slot) (value.Slot, dispatch.Code) {
	if len(args) != 2 {
		return value.Undef, dispatch.ReturnFromFunction
	}
	return value.Bool(args[0].ToBool() || args[1].ToBool()), dispatch.Continue
}
