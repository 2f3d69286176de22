package jit

import (
	"github.com/zephyrtronium/prask/internal/ast"
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/value"
)

// compileFunction compiles a function literal into a closure that, when
// run, allocates a FunctionValue heap object capturing its free
// variables from the enclosing frame (spec.md §3 "Function", §4.5).
func (c *Compiler) compileFunction(n *ast.Node, outer *env) (Closure, error) {
	inner := newEnv()
	off := 1
	for _, p := range n.Parms {
		inner.offsets[p] = off
		off++
	}
	extraLocals := 0
	for _, l := range n.Locals {
		if _, ok := inner.offsets[l]; ok {
			continue
		}
		inner.offsets[l] = off
		off++
		extraLocals++
	}
	for _, name := range n.FreeVars {
		if _, ok := inner.offsets[name]; ok {
			continue
		}
		inner.upvalues[name] = true
	}

	bodyCl, err := c.compileStmts(n.Stmts, inner)
	if err != nil {
		return nil, err
	}
	// runBody is the function's actual recur-label: compileRecur shifts
	// the frame's stack slots in place and reports recurCode instead of
	// unwinding, so re-running bodyCl against the same (now-updated)
	// frame is the tail jump spec.md §4.1 describes, at arbitrary
	// recursion depth with no growth of either the value stack or the Go
	// call stack.
	runBody := func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		for {
			v, code := bodyCl(f)
			if code != recurCode {
				return v, code
			}
		}
	}
	arity := len(n.Parms)
	freeVars := n.FreeVars

	// capture reads one free variable's current value out of the
	// enclosing function's activation at the moment this Function node
	// runs (i.e. when the closure value is created), snapshotting it by
	// value per ordinary lexical-closure semantics (SPEC_FULL.md §4).
	capture := func(f *fiber.Fiber, name string) value.Slot {
		if off, ok := outer.lookup(name); ok {
			fr := f.CurrentFrame()
			if fr == nil {
				return value.Undef
			}
			return f.Stack.At(fr.Base + off)
		}
		if outer.isUpvalue(name) {
			fr := f.CurrentFrame()
			if fr == nil {
				return value.Undef
			}
			if fn, ok := fr.Callable.(*FunctionValue); ok {
				return fn.Upvalues[name]
			}
			return value.Undef
		}
		return c.Globals.Get(name)
	}

	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		upvalues := make(map[string]value.Slot, len(freeVars))
		for _, name := range freeVars {
			upvalues[name] = capture(f, name)
		}
		fn := &FunctionValue{Arity: arity, Locals: extraLocals, Body: runBody, Upvalues: upvalues}
		obj := value.NewObject(FunctionTypeDesc, 0)
		obj.Payload = fn
		return value.HeapRef(obj), dispatch.Continue
	}, nil
}

func (c *Compiler) compileVector(n *ast.Node, e *env) (Closure, error) {
	items, ok := n.Data.([]*ast.Node)
	if !ok {
		return nil, nil
	}
	cls := make([]Closure, len(items))
	for i, it := range items {
		cl, err := c.compileNode(it, e)
		if err != nil {
			return nil, err
		}
		cls[i] = cl
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		vals := make([]value.Slot, len(cls))
		var refs []value.Ref
		for i, cl := range cls {
			v, code := cl(f)
			if code != dispatch.Continue {
				return v, code
			}
			vals[i] = v
			if v.IsHeapRef() {
				refs = append(refs, v.HeapObject())
			}
		}
		obj := value.NewObject(VectorTypeDesc, uint32(len(vals)*8))
		obj.Payload = vals
		obj.Refs = refs
		return value.HeapRef(obj), dispatch.Continue
	}, nil
}

func (c *Compiler) compileDict(n *ast.Node, e *env) (Closure, error) {
	entries, ok := n.Data.([]ast.DictEntry)
	if !ok {
		return nil, nil
	}
	type compiledEntry struct {
		key   Closure
		value Closure
	}
	cls := make([]compiledEntry, len(entries))
	for i, ent := range entries {
		kCl, err := c.compileNode(ent.Key, e)
		if err != nil {
			return nil, err
		}
		vCl, err := c.compileNode(ent.Value, e)
		if err != nil {
			return nil, err
		}
		cls[i] = compiledEntry{key: kCl, value: vCl}
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		m := make(map[string]value.Slot, len(cls))
		var refs []value.Ref
		for _, ent := range cls {
			k, code := ent.key(f)
			if code != dispatch.Continue {
				return k, code
			}
			v, code := ent.value(f)
			if code != dispatch.Continue {
				return v, code
			}
			key := ""
			if k.IsHeapRef() {
				if s, ok := k.HeapObject().Payload.(string); ok {
					key = s
				}
			}
			m[key] = v
			if v.IsHeapRef() {
				refs = append(refs, v.HeapObject())
			}
		}
		obj := value.NewObject(DictTypeDesc, uint32(len(m)*16))
		obj.Payload = m
		obj.Refs = refs
		return value.HeapRef(obj), dispatch.Continue
	}, nil
}

// compileStruct compiles a struct literal (its StructField children) into
// a closure building a named-field record (spec.md §3 "Struct" /
// "StructField").
func (c *Compiler) compileStruct(n *ast.Node, e *env) (Closure, error) {
	if n.Kind == ast.StructField {
		return c.compileNode(n.Expr, e)
	}
	fields := n.Args
	type compiledField struct {
		name string
		expr Closure
	}
	cls := make([]compiledField, len(fields))
	for i, fNode := range fields {
		cl, err := c.compileNode(fNode, e)
		if err != nil {
			return nil, err
		}
		cls[i] = compiledField{name: fNode.Name, expr: cl}
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		m := make(map[string]value.Slot, len(cls))
		var refs []value.Ref
		for _, cf := range cls {
			v, code := cf.expr(f)
			if code != dispatch.Continue {
				return v, code
			}
			m[cf.name] = v
			if v.IsHeapRef() {
				refs = append(refs, v.HeapObject())
			}
		}
		obj := value.NewObject(StructTypeDesc, uint32(len(m)*16))
		obj.Payload = m
		obj.Refs = refs
		return value.HeapRef(obj), dispatch.Continue
	}, nil
}
