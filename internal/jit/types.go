package jit

import (
	"fmt"
	"strings"

	"github.com/zephyrtronium/prask/internal/value"
)

// Built-in collectable type descriptors (spec.md §3's string/vector/
// dict/struct/function value kinds). Grounded on the teacher's per-kind
// Tag values (zephyrtronium-iolang's SequenceTag, ListTag, BlockTag,
// etc. in sequence-string.go, list.go, block.go): one small TypeDesc per
// built-in kind, carrying a ReprString for debug output the way the
// teacher's Tag.String carries a type name.
var (
	StringTypeDesc = &value.TypeDesc{
		Name: "string",
		ReprString: func(o *value.Object) string {
			s, _ := o.Payload.(string)
			return s
		},
	}
	VectorTypeDesc = &value.TypeDesc{
		Name: "vector",
		ReprString: func(o *value.Object) string {
			items, _ := o.Payload.([]value.Slot)
			parts := make([]string, len(items))
			for i := range items {
				parts[i] = "_"
			}
			return "[" + strings.Join(parts, ", ") + "]"
		},
	}
	DictTypeDesc = &value.TypeDesc{
		Name: "dict",
		ReprString: func(o *value.Object) string {
			m, _ := o.Payload.(map[string]value.Slot)
			return fmt.Sprintf("dict(%d entries)", len(m))
		},
	}
	StructTypeDesc = &value.TypeDesc{
		Name: "struct",
		ReprString: func(o *value.Object) string {
			m, _ := o.Payload.(map[string]value.Slot)
			return fmt.Sprintf("struct(%d fields)", len(m))
		},
	}
	FunctionTypeDesc = &value.TypeDesc{
		Name: "function",
		ReprString: func(o *value.Object) string {
			fn, _ := o.Payload.(*FunctionValue)
			if fn == nil {
				return "function"
			}
			return fmt.Sprintf("function/%d", fn.Arity)
		},
	}
)

// FunctionValue is the payload of a Function-typed heap object: a
// compiled body closure plus the upvalues captured at creation time
// (spec.md §3 "Function" / §4.5 "closure capture"). Captured free
// variables are snapshotted by value when the function literal is
// evaluated, matching ordinary Go closure semantics rather than a
// mutable shared-cell model.
type FunctionValue struct {
	Arity    int
	Locals   int
	Body     Closure
	Upvalues map[string]value.Slot
}
