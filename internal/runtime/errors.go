package runtime

import (
	"fmt"

	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/value"
)

// ErrorCategory is the error taxonomy spec.md §7 names: structural and
// resource errors are ordinary first-class values a compiled function's
// epilog can propagate; invariant violations are not user-visible and
// abort the process (see FatalInvariant).
type ErrorCategory int

const (
	// Structural: bad dispatch, symbol-not-found, key-not-found,
	// argument-count mismatch (spec.md §7.1).
	Structural ErrorCategory = iota + 1
	// Resource: allocation failure, stack overflow, reactor I/O error
	// (spec.md §7.2).
	Resource
)

// RuntimeError is a Go-level error wrapping a structural or resource
// failure (spec.md §7 categories 1-2). The fiber builtins
// (fiber_builtins.go) surface these to programs as ordinary values
// through ErrorValue; only category 3
// (internal invariant violation) skips this type entirely and goes
// straight to FatalInvariant.
type RuntimeError struct {
	Category ErrorCategory
	Message  string
	// Cause, when set, is the underlying system error (spec.md §7.2
	// "I/O errors carry the underlying system message").
	Cause error
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

func structuralf(format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Category: Structural, Message: fmt.Sprintf(format, args...)}
}

func resourcef(cause error, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Category: Resource, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrNotDefinedForArgumentTypes mirrors dispatch.go's bootstrap comment
// ("NotDefinedForArgumentTypes, see internal/runtime") by naming the
// error for a call site with no method for its argument shapes. No code
// in this module constructs it: an unresolved call site returns
// (Undef, ReturnFromFunction) and no error value is produced.
func ErrNotDefinedForArgumentTypes(callee string) *RuntimeError {
	return structuralf("no method defined for %s with these argument types", callee)
}

// ErrSymbolNotFound is the structural error for an unresolved Global or
// Local reference (spec.md §7.1 "symbol-not-found").
func ErrSymbolNotFound(name string) *RuntimeError {
	return structuralf("symbol not found: %s", name)
}

// ErrKeyNotFound is the structural error for a missing dict/struct field
// (spec.md §7.1 "key-not-found").
func ErrKeyNotFound(key string) *RuntimeError {
	return structuralf("key not found: %s", key)
}

// ErrArgCount is the structural error for an argument-count mismatch
// (spec.md §7.1).
func ErrArgCount(callee string, want, got int) *RuntimeError {
	return structuralf("%s expects %d argument(s), got %d", callee, want, got)
}

// ErrAllocFailed and ErrStackOverflow are resource errors (spec.md
// §7.2).
func ErrAllocFailed(cause error) *RuntimeError {
	return resourcef(cause, "allocation failed")
}

func ErrStackOverflow() *RuntimeError {
	return &RuntimeError{Category: Resource, Message: "value stack overflow"}
}

// ErrIO wraps a reactor I/O failure, carrying the underlying system
// message per spec.md §7.2.
func ErrIO(cause error) *RuntimeError {
	return resourcef(cause, "i/o error")
}

// ErrorTypeDesc is the heap TypeDesc for an error-as-value (spec.md §7
// "errors are first-class heap values distinguishable by type"; "the
// runtime prints the error's representation"). Grounded on
// internal/jit/types.go's per-kind TypeDesc pattern.
var ErrorTypeDesc = &value.TypeDesc{
	Name: "error",
	ReprString: func(o *value.Object) string {
		err, _ := o.Payload.(*RuntimeError)
		if err == nil {
			return "error"
		}
		return err.Error()
	},
}

// ErrorValue wraps a *RuntimeError as a heap Slot so compiled code can
// hold, inspect, and propagate it like any other value (spec.md §7
// "distinguishable by type").
func ErrorValue(err *RuntimeError) value.Slot {
	obj := value.NewObject(ErrorTypeDesc, 0)
	obj.Payload = err
	return value.HeapRef(obj)
}

// AsRuntimeError reports whether a Slot holds an error value, and
// returns it.
func AsRuntimeError(s value.Slot) (*RuntimeError, bool) {
	if !s.IsHeapRef() {
		return nil, false
	}
	err, ok := s.HeapObject().Payload.(*RuntimeError)
	return err, ok
}

// FatalInvariant aborts the process for a category-3 internal
// invariant violation (spec.md §7.3: "these must never fire in correct
// programs and are the only category that is not user-visible as a
// recoverable value"). Mirrors the teacher's panic("iolang: ...")
// convention for "should never happen" paths (internal/vm.go's
// AddonProto), routed through commonlog first so the abort is logged
// structurally before the process dies.
func FatalInvariant(log diag.Logger, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	log.Error(msg)
	panic("prask: invariant violation: " + msg)
}
