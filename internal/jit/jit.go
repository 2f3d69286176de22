// Package jit compiles a decoded AST (internal/ast) into a chain of Go
// closures executed directly on a Fiber's value stack (spec.md §4.5,
// C7). True machine-code generation is out of scope for a portable Go
// runtime (spec.md's emitter is explicitly single-ISA by design,
// SPEC_FULL.md §4); this package instead threads the AST into nested Go
// closures once, at "compile" time, so that running compiled code never
// re-walks the tree node-by-node the way a naive evaluator would.
//
// The calling convention mirrors spec.md §4.5's runtime helper
// signatures: every compiled unit is a Closure taking the running
// *fiber.Fiber and returning a (value.Slot, dispatch.Code) pair, the
// same vocabulary internal/dispatch's Method type uses, so a compiled
// function and a built-in are interchangeable at a call site.
//
// Grounded on the teacher's Message.Eval (zephyrtronium-iolang's
// message.go): there a Message tree is interpreted node-by-node on
// every activation, with a Memo fast path caching literal results. Here
// the whole tree is compiled once into closures up front instead of
// re-dispatching on Symbol.Kind every time, and literal nodes compile
// directly to a closure returning a constant Slot (the compile-time
// analogue of Memo).
package jit

import (
	"fmt"

	"github.com/zephyrtronium/prask/internal/ast"
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/value"
)

// Closure is a compiled node: a unit of runtime behavior carrying the
// calling convention's (value, code) result pair.
type Closure func(f *fiber.Fiber) (value.Slot, dispatch.Code)

// recurCode is compileRecur's "jump to function recur-label" signal
// (spec.md §4.1's Recur row). It is not one of dispatch.Code's own
// values: a call site never sees it, and it never escapes a single
// function activation. compileStmts and compileIfElse already forward
// any non-Continue code unchanged, so recurCode rides that same
// propagation path up to compileFunction's body loop without either of
// them needing to know it exists.
const recurCode dispatch.Code = -2

// env resolves identifiers to frame-relative stack offsets at compile
// time (spec.md §4.1 "locals are addressed by a frame-relative offset
// fixed at compile time"). Nested lets extend the same function's frame
// rather than allocating a new one, matching the original compiler's
// single flat Locals list per function (ast.Node.Locals).
//
// env is scoped to exactly one function body: it never chains across a
// function boundary. A name captured from an enclosing function
// (ast.Node.FreeVars) is instead recorded in upvalues and resolved at
// runtime through the running frame's FunctionValue.Upvalues map
// (compileFunction), since the offset that named it in the *enclosing*
// frame is meaningless applied to the callee's own frame.
type env struct {
	offsets  map[string]int
	upvalues map[string]bool
}

func newEnv() *env {
	return &env{offsets: make(map[string]int), upvalues: make(map[string]bool)}
}

func (e *env) lookup(name string) (int, bool) {
	off, ok := e.offsets[name]
	return off, ok
}

func (e *env) isUpvalue(name string) bool { return e.upvalues[name] }

// Compiler holds the cross-function state needed while emitting
// closures: the module's global table. Dispatch call sites are not held
// here; each is stored on its ast.Node's Callable field.
type Compiler struct {
	Globals *Globals
}

// NewCompiler creates a Compiler bound to a module's Globals table.
func NewCompiler(g *Globals) *Compiler {
	return &Compiler{Globals: g}
}

// CompileModule compiles a module's top-level statement list into one
// Closure that runs each statement in turn, installing Define bindings
// into Globals as it goes (spec.md §6 "module: Stmts ... Imports").
func (c *Compiler) CompileModule(n *ast.Node) (Closure, error) {
	if n.Kind != ast.Module {
		return nil, fmt.Errorf("jit: CompileModule given a %s node", n.Kind)
	}
	return c.compileStmts(n.Stmts, newEnv())
}

// compileStmts compiles a statement sequence: each runs in order, and a
// non-Continue code (Return, Recur, or an exit code) short-circuits the
// remaining statements and propagates immediately (spec.md §4.5 calling
// convention).
func (c *Compiler) compileStmts(stmts []*ast.Node, e *env) (Closure, error) {
	compiled := make([]Closure, len(stmts))
	for i, s := range stmts {
		cl, err := c.compileNode(s, e)
		if err != nil {
			return nil, err
		}
		compiled[i] = cl
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		var result value.Slot
		for _, cl := range compiled {
			var code dispatch.Code
			result, code = cl(f)
			if code != dispatch.Continue {
				return result, code
			}
		}
		return result, dispatch.Continue
	}, nil
}

// compileNode dispatches on Kind, mirroring spec.md §4.5's per-Kind
// emission table.
func (c *Compiler) compileNode(n *ast.Node, e *env) (Closure, error) {
	switch n.Kind {
	case ast.Integer:
		v := value.Int(n.Data.(int64))
		return constant(v), nil
	case ast.String, ast.Keyword:
		return c.compileStringLiteral(n)
	case ast.Boolean:
		v := value.Bool(n.Data.(bool))
		return constant(v), nil
	case ast.Local:
		return c.compileLocalRef(n, e)
	case ast.Symbol:
		// A bare symbol with no further resolution info behaves like an
		// unbound local reference: resolved the same way as Local.
		return c.compileLocalRef(n, e)
	case ast.Global:
		return c.compileGlobalRef(n)
	case ast.Define:
		return c.compileDefine(n, e)
	case ast.Let:
		return c.compileLet(n, e)
	case ast.IfElse:
		return c.compileIfElse(n, e)
	case ast.Return:
		return c.compileReturn(n, e)
	case ast.Recur:
		return c.compileRecur(n, e)
	case ast.Call:
		return c.compileCall(n, e)
	case ast.Builtin:
		return c.compileBuiltin(n, e)
	case ast.Function:
		return c.compileFunction(n, e)
	case ast.Vector:
		return c.compileVector(n, e)
	case ast.Dict:
		return c.compileDict(n, e)
	case ast.Struct, ast.StructField:
		return c.compileStruct(n, e)
	case ast.Import:
		return c.compileImport(n)
	default:
		return nil, fmt.Errorf("jit: unrecognized node kind %q", n.Kind)
	}
}

// constant returns a Closure producing a fixed value, the compiled form
// of any literal leaf node (the compile-time analogue of the teacher's
// Message.Memo fast path).
func constant(v value.Slot) Closure {
	return func(*fiber.Fiber) (value.Slot, dispatch.Code) {
		return v, dispatch.Continue
	}
}

func (c *Compiler) compileStringLiteral(n *ast.Node) (Closure, error) {
	s, ok := n.Data.(string)
	if !ok {
		return nil, fmt.Errorf("jit: %s node has non-string Data", n.Kind)
	}
	desc := StringTypeDesc
	obj := value.NewObject(desc, uint32(len(s)))
	obj.Payload = s
	v := value.HeapRef(obj)
	return constant(v), nil
}

func (c *Compiler) compileLocalRef(n *ast.Node, e *env) (Closure, error) {
	if off, ok := e.lookup(n.Name); ok {
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			fr := f.CurrentFrame()
			return f.Stack.At(fr.Base + off), dispatch.Continue
		}, nil
	}
	if e.isUpvalue(n.Name) {
		return compileUpvalueRef(n.Name), nil
	}
	return nil, fmt.Errorf("jit: undefined local %q", n.Name)
}

// compileUpvalueRef reads a free variable from the running frame's
// FunctionValue.Upvalues snapshot (see compileFunction), since the
// enclosing function's frame is long gone by the time the inner
// function runs.
func compileUpvalueRef(name string) Closure {
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		fr := f.CurrentFrame()
		if fr == nil {
			return value.Undef, dispatch.Continue
		}
		fn, _ := fr.Callable.(*FunctionValue)
		if fn == nil {
			return value.Undef, dispatch.Continue
		}
		return fn.Upvalues[name], dispatch.Continue
	}
}

func (c *Compiler) compileGlobalRef(n *ast.Node) (Closure, error) {
	name := n.Name
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		return c.Globals.Get(name), dispatch.Continue
	}, nil
}

func (c *Compiler) compileDefine(n *ast.Node, e *env) (Closure, error) {
	valCl, err := c.compileNode(n.Value, e)
	if err != nil {
		return nil, err
	}
	name := n.Name
	if off, ok := e.lookup(name); ok {
		// A define inside a function body assigns a local slot, not a
		// global (spec.md §3 "Local" vs "Global" bindings).
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			v, code := valCl(f)
			if code != dispatch.Continue {
				return v, code
			}
			fr := f.CurrentFrame()
			f.Stack.Set(fr.Base+off, v)
			return v, dispatch.Continue
		}, nil
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		v, code := valCl(f)
		if code != dispatch.Continue {
			return v, code
		}
		c.Globals.Set(name, v)
		return v, dispatch.Continue
	}, nil
}

func (c *Compiler) compileLet(n *ast.Node, e *env) (Closure, error) {
	exprCl, err := c.compileNode(n.Expr, e)
	if err != nil {
		return nil, err
	}
	off, ok := e.lookup(n.Name)
	if !ok {
		return nil, fmt.Errorf("jit: let %q has no resolved local slot", n.Name)
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		v, code := exprCl(f)
		if code != dispatch.Continue {
			return v, code
		}
		fr := f.CurrentFrame()
		f.Stack.Set(fr.Base+off, v)
		return v, dispatch.Continue
	}, nil
}

func (c *Compiler) compileIfElse(n *ast.Node, e *env) (Closure, error) {
	condCl, err := c.compileNode(n.Expr, e)
	if err != nil {
		return nil, err
	}
	thenCl, err := c.compileStmts(n.IfStmts, e)
	if err != nil {
		return nil, err
	}
	var elseCl Closure
	if len(n.ElseStmts) > 0 {
		elseCl, err = c.compileStmts(n.ElseStmts, e)
		if err != nil {
			return nil, err
		}
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		cond, code := condCl(f)
		if code != dispatch.Continue {
			return cond, code
		}
		if cond.ToBool() {
			return thenCl(f)
		}
		if elseCl != nil {
			return elseCl(f)
		}
		return value.Undef, dispatch.Continue
	}, nil
}

func (c *Compiler) compileReturn(n *ast.Node, e *env) (Closure, error) {
	var exprCl Closure
	if n.Expr != nil {
		var err error
		exprCl, err = c.compileNode(n.Expr, e)
		if err != nil {
			return nil, err
		}
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		if exprCl == nil {
			return value.Undef, dispatch.ReturnFromFunction
		}
		v, code := exprCl(f)
		if code != dispatch.Continue {
			return v, code
		}
		return v, dispatch.ReturnFromFunction
	}, nil
}

func (c *Compiler) compileRecur(n *ast.Node, e *env) (Closure, error) {
	argCls := make([]Closure, len(n.Args))
	for i, a := range n.Args {
		cl, err := c.compileNode(a, e)
		if err != nil {
			return nil, err
		}
		argCls[i] = cl
	}
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		vals := make([]value.Slot, len(argCls))
		for i, cl := range argCls {
			v, code := cl(f)
			if code != dispatch.Continue {
				return v, code
			}
			vals[i] = v
		}
		// fr is fetched only after every arg closure has run, not before:
		// a nested Call among the args can push and pop frames, and since
		// fiber.Fiber.frames is a slice of Frame values rather than
		// pointers, growing it during those nested calls can reallocate
		// the backing array and strand an earlier-taken *Frame.
		fr := f.CurrentFrame()
		// Run pending defers before the jump (spec.md §4.2: "on return or
		// recur, before the epilog, the defer list is applied"), same LIFO
		// order as fiber.Fiber.PopFrame but without truncating the stack,
		// since Recur reuses this frame rather than popping it.
		for i := len(fr.Defers) - 1; i >= 0; i-- {
			fr.Defers[i]()
		}
		fr.Defers = fr.Defers[:0]
		// Push the new arguments on top: Stack.Recur shifts the top argc
		// slots down to fr.Base+1 and truncates the locals, which are
		// then re-established as in the function prolog.
		for _, v := range vals {
			f.Stack.Push(v)
		}
		f.Recur(len(vals), fr.Locals)
		f.Stack.InitLocals(fr.Locals)
		return value.Undef, recurCode
	}, nil
}

func (c *Compiler) compileCall(n *ast.Node, e *env) (Closure, error) {
	argCls := make([]Closure, len(n.Args))
	for i, a := range n.Args {
		cl, err := c.compileNode(a, e)
		if err != nil {
			return nil, err
		}
		argCls[i] = cl
	}
	calleeCl, err := c.compileLocalOrGlobalOrCallable(n, e)
	if err != nil {
		return nil, err
	}
	// The inline cache (internal/dispatch) is reserved for Builtin-node
	// dispatch on argument type (spec.md §4.5's Single/Binary kinds);
	// Apply nodes that invoke a first-class FunctionValue instead call
	// directly through the fiber's own frame stack, since a compiled
	// function body's Local references are addressed relative to
	// fr.Base and so require the calling fiber, which dispatch.Method's
	// signature (no *fiber.Fiber parameter) cannot carry.
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		callee, code := calleeCl(f)
		if code != dispatch.Continue {
			return callee, code
		}
		args := make([]value.Slot, len(argCls))
		for i, cl := range argCls {
			v, code := cl(f)
			if code != dispatch.Continue {
				return v, code
			}
			args[i] = v
		}
		return InvokeFunction(f, callee, args)
	}, nil
}

// InvokeFunction applies a HEAP_REF-to-FunctionValue callee against args,
// pushing a new frame on the calling fiber's stack (spec.md §4.1 "Apply":
// "push callable, push args, call base(argc), init_locals, run body,
// pop_frame"). ReturnFromFunction is swallowed here: it only unwinds as
// far as the frame that issued it, becoming an ordinary Continue result
// to the caller of Call.
func InvokeFunction(f *fiber.Fiber, callee value.Slot, args []value.Slot) (value.Slot, dispatch.Code) {
	if !callee.IsHeapRef() {
		return value.Undef, dispatch.ReturnFromFunction
	}
	fn, ok := callee.HeapObject().Payload.(*FunctionValue)
	if !ok {
		return value.Undef, dispatch.ReturnFromFunction
	}
	f.Stack.Push(callee)
	for _, a := range args {
		f.Stack.Push(a)
	}
	f.PushFrame(len(args), fn.Locals, fn)
	f.Checkpoint()
	result, code := fn.Body(f)
	f.PopFrame()
	if code == dispatch.ReturnFromFunction {
		code = dispatch.Continue
	}
	return result, code
}

// compileLocalOrGlobalOrCallable resolves a call node's callee, which
// the decoder leaves as the node's Name (spec.md §6 "call").
func (c *Compiler) compileLocalOrGlobalOrCallable(n *ast.Node, e *env) (Closure, error) {
	if off, ok := e.lookup(n.Name); ok {
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			fr := f.CurrentFrame()
			return f.Stack.At(fr.Base + off), dispatch.Continue
		}, nil
	}
	if e.isUpvalue(n.Name) {
		return compileUpvalueRef(n.Name), nil
	}
	name := n.Name
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		return c.Globals.Get(name), dispatch.Continue
	}, nil
}

func (c *Compiler) compileBuiltin(n *ast.Node, e *env) (Closure, error) {
	argCls := make([]Closure, len(n.Args))
	for i, a := range n.Args {
		cl, err := c.compileNode(a, e)
		if err != nil {
			return nil, err
		}
		argCls[i] = cl
	}
	evalArgs := func(f *fiber.Fiber) ([]value.Slot, value.Slot, dispatch.Code, bool) {
		args := make([]value.Slot, len(argCls))
		for i, cl := range argCls {
			v, code := cl(f)
			if code != dispatch.Continue {
				return nil, v, code, false
			}
			args[i] = v
		}
		return args, value.Undef, dispatch.Continue, true
	}
	if spec, ok := binaryOps[n.Name]; ok {
		cs := newBinaryCallSite(spec)
		n.Callable = cs
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			args, v, code, ok := evalArgs(f)
			if !ok {
				return v, code
			}
			if len(args) != 2 {
				return value.Undef, dispatch.ReturnFromFunction
			}
			callArgs := [3]value.Slot{value.Undef, args[0], args[1]}
			// dispatch.CallSite.bootstrap always reports MisDispatch on the
			// call that resolves and installs a target, never on the call
			// that actually runs it (see internal/dispatch's bootstrap doc
			// comment). A call site's very first-ever invocation therefore
			// costs exactly one retry (bootstrap resolves, then the retry
			// computes). A type-shape change costs one retry *more* than
			// that: the stale installed method detects the mismatch via
			// MarkMisdispatched and reports MisDispatch itself, resetting
			// the target back to bootstrap, so the following retry merely
			// re-resolves (another MisDispatch) and only the retry after
			// that actually computes the result. Two retries is the most
			// any single shape transition requires (spec.md §8 scenario 5:
			// "at most one extra mis-dispatch retry" beyond the ordinary
			// cold-resolve retry), so the loop is bounded at two.
			res, code := cs.Invoke(callArgs[:])
			for i := 0; i < 2 && code == dispatch.MisDispatch; i++ {
				res, code = cs.Invoke(callArgs[:])
			}
			return res, code
		}, nil
	}
	if m, ok := Builtins[n.Name]; ok {
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			args, v, code, ok := evalArgs(f)
			if !ok {
				return v, code
			}
			return m(args)
		}, nil
	}
	if m, ok := FiberBuiltins[n.Name]; ok {
		return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
			args, v, code, ok := evalArgs(f)
			if !ok {
				return v, code
			}
			return m(f, args)
		}, nil
	}
	return nil, fmt.Errorf("jit: unknown builtin %q", n.Name)
}

// compileImport emits a pure no-op. Real linking already happened
// before this module's body was ever compiled: internal/runtime's
// Modules.load walks n.Imports (the module's own import list, separate
// from its Stmts) and recursively loads and runs each dependency first
// (spec.md §6 "import": a dependency must finish running before the
// module that imports it does), so every Global an import could define
// is already populated in Globals by the time any compiled Stmts
// closure runs. An ast.Import node reaches compileNode at all only if
// the decoder places one inline in a Stmts/IfStmts list rather than in
// the module-level Imports field; this closure exists so that case
// still type-checks as an inert value instead of failing compileNode's
// switch.
func (c *Compiler) compileImport(n *ast.Node) (Closure, error) {
	return func(f *fiber.Fiber) (value.Slot, dispatch.Code) {
		return value.Undef, dispatch.Continue
	}, nil
}
