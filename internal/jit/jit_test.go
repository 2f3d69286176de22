package jit

import (
	"testing"
	"time"

	"github.com/zephyrtronium/prask/internal/ast"
	"github.com/zephyrtronium/prask/internal/dispatch"
	"github.com/zephyrtronium/prask/internal/diag"
	"github.com/zephyrtronium/prask/internal/fiber"
	"github.com/zephyrtronium/prask/internal/gc"
	"github.com/zephyrtronium/prask/internal/heap"
	"github.com/zephyrtronium/prask/internal/value"
)

// newTestFiber builds a fiber with checkpointing disabled (interval 0),
// which is all a single-goroutine compiled-closure test needs: no
// stop-the-world request is ever raised, so Checkpoint would otherwise
// be a harmless no-op anyway, but passing 0 documents that explicitly.
func newTestFiber() *fiber.Fiber {
	shared := heap.NewSharedHeap()
	coll := gc.NewCollector(shared, diag.For("jit_test"), 1<<30, time.Hour)
	return fiber.New(1, coll, shared, 1<<16, 0)
}

func newTestCompiler() *Compiler {
	return NewCompiler(NewGlobals())
}

// TestCompileIfElseUsesExpr is a direct regression test for the
// maintainer-reported nil-pointer panic: compileIfElse must read a
// branching node's condition from Expr (the only field the decoder
// populates for an if_else_statement), not from a field named Cond
// (which no longer exists on ast.Node at all). Compiling and running an
// if/else node must not panic, and must select the correct branch.
func TestCompileIfElseUsesExpr(t *testing.T) {
	c := newTestCompiler()
	f := newTestFiber()

	trueBranch := &ast.Node{
		Kind: ast.IfElse,
		Expr: &ast.Node{Kind: ast.Boolean, Data: true},
		IfStmts: []*ast.Node{
			{Kind: ast.Integer, Data: int64(1)},
		},
		ElseStmts: []*ast.Node{
			{Kind: ast.Integer, Data: int64(2)},
		},
	}
	cl, err := c.compileNode(trueBranch, newEnv())
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	v, code := cl(f)
	if code != dispatch.Continue || v.Int64() != 1 {
		t.Fatalf("true branch: got (%#v, %v), want (1, Continue)", v, code)
	}

	falseBranch := &ast.Node{
		Kind: ast.IfElse,
		Expr: &ast.Node{Kind: ast.Boolean, Data: false},
		IfStmts: []*ast.Node{
			{Kind: ast.Integer, Data: int64(1)},
		},
		ElseStmts: []*ast.Node{
			{Kind: ast.Integer, Data: int64(2)},
		},
	}
	cl, err = c.compileNode(falseBranch, newEnv())
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	v, code = cl(f)
	if code != dispatch.Continue || v.Int64() != 2 {
		t.Fatalf("false branch: got (%#v, %v), want (2, Continue)", v, code)
	}
}

// TestCompileIfElseNoElse covers the no-else-branch path (spec.md §6: an
// if_else_statement with an empty else_stmts), which must yield Undef
// rather than panicking on a nil elseCl.
func TestCompileIfElseNoElse(t *testing.T) {
	c := newTestCompiler()
	f := newTestFiber()
	n := &ast.Node{
		Kind:    ast.IfElse,
		Expr:    &ast.Node{Kind: ast.Boolean, Data: false},
		IfStmts: []*ast.Node{{Kind: ast.Integer, Data: int64(9)}},
	}
	cl, err := c.compileNode(n, newEnv())
	if err != nil {
		t.Fatalf("compileNode: %v", err)
	}
	v, code := cl(f)
	if code != dispatch.Continue || v.Kind != value.UNDEF {
		t.Fatalf("got (%#v, %v), want (Undef, Continue)", v, code)
	}
}

// factorialFunctionNode builds the AST for a tail-recursive factorial
// computed via Recur rather than repeated Call (spec.md §8 scenario 1):
//
//	function(n, acc):
//	  if eq(n, 0):
//	    return acc
//	  else:
//	    recur(sub(n, 1), mul(acc, n))
func factorialFunctionNode() *ast.Node {
	localN := func() *ast.Node { return &ast.Node{Kind: ast.Local, Name: "n"} }
	localAcc := func() *ast.Node { return &ast.Node{Kind: ast.Local, Name: "acc"} }
	return &ast.Node{
		Kind:  ast.Function,
		Name:  "fact",
		Parms: []string{"n", "acc"},
		Stmts: []*ast.Node{
			{
				Kind: ast.IfElse,
				Expr: &ast.Node{
					Kind: ast.Builtin,
					Name: "eq",
					Args: []*ast.Node{localN(), {Kind: ast.Integer, Data: int64(0)}},
				},
				IfStmts: []*ast.Node{
					{Kind: ast.Return, Expr: localAcc()},
				},
				ElseStmts: []*ast.Node{
					{
						Kind: ast.Recur,
						Args: []*ast.Node{
							{Kind: ast.Builtin, Name: "sub", Args: []*ast.Node{localN(), {Kind: ast.Integer, Data: int64(1)}}},
							{Kind: ast.Builtin, Name: "mul", Args: []*ast.Node{localAcc(), localN()}},
						},
					},
				},
			},
		},
	}
}

// TestFactorialViaRecur is spec.md §8 scenario 1, literal: compiling and
// running a tail-recursive factorial must produce the correct result
// without growing the Go call stack per recursive step (Recur reuses the
// current frame; see internal/stack.Stack.Recur), and must not panic on
// the if_else_statement's condition the way the pre-fix compileIfElse
// did.
func TestFactorialViaRecur(t *testing.T) {
	c := newTestCompiler()
	fnCl, err := c.compileFunction(factorialFunctionNode(), newEnv())
	if err != nil {
		t.Fatalf("compileFunction: %v", err)
	}
	f := newTestFiber()
	callee, code := fnCl(f)
	if code != dispatch.Continue || !callee.IsHeapRef() {
		t.Fatalf("function literal did not produce a heap ref: (%#v, %v)", callee, code)
	}

	result, code := InvokeFunction(f, callee, []value.Slot{value.Int(5), value.Int(1)})
	if code != dispatch.Continue {
		t.Fatalf("InvokeFunction code = %v, want Continue", code)
	}
	if result.Int64() != 120 {
		t.Fatalf("fact(5) = %d, want 120", result.Int64())
	}

	result, code = InvokeFunction(f, callee, []value.Slot{value.Int(0), value.Int(1)})
	if code != dispatch.Continue || result.Int64() != 1 {
		t.Fatalf("fact(0) = (%#v, %v), want (1, Continue)", result, code)
	}

	if f.Stack.Size() != 0 {
		t.Fatalf("stack not unwound after InvokeFunction: size = %d", f.Stack.Size())
	}
}

// TestCompileBuiltinBinaryDispatch exercises C8 end to end through the
// compiler: compiling an "add" Builtin node must populate n.Callable
// with a *dispatch.CallSite (spec.md §3's lazy-resolution contract), and
// re-invoking the *same* compiled closure after the underlying frame
// slots change kind (Int,Int -> Float,Float) must still produce the
// correct result via a mis-dispatch retry rather than a stale cached
// result (spec.md §8 scenario 5).
func TestCompileBuiltinBinaryDispatch(t *testing.T) {
	c := newTestCompiler()
	f := newTestFiber()

	e := newEnv()
	e.offsets["a"] = 1
	e.offsets["b"] = 2
	n := &ast.Node{
		Kind: ast.Builtin,
		Name: "add",
		Args: []*ast.Node{
			{Kind: ast.Local, Name: "a"},
			{Kind: ast.Local, Name: "b"},
		},
	}
	cl, err := c.compileBuiltin(n, e)
	if err != nil {
		t.Fatalf("compileBuiltin: %v", err)
	}
	if _, ok := n.Callable.(*dispatch.CallSite); !ok {
		t.Fatalf("n.Callable = %T, want *dispatch.CallSite", n.Callable)
	}

	f.Stack.Push(value.Undef) // callee placeholder slot
	f.Stack.Push(value.Int(2))
	f.Stack.Push(value.Int(3))
	fr := f.PushFrame(2, 0, nil)

	v, code := cl(f)
	if code != dispatch.Continue || v.Int64() != 5 {
		t.Fatalf("add(2,3) = (%#v, %v), want (5, Continue)", v, code)
	}

	// Change the frame's argument kinds without recompiling: the call
	// site's cached (Int,Int) target must detect the mismatch and fall
	// back through bootstrap to the (Float,Float) method.
	f.Stack.Set(fr.Base+1, value.Float(2.5))
	f.Stack.Set(fr.Base+2, value.Float(1.5))
	v, code = cl(f)
	if code != dispatch.Continue || v.Float64() != 4.0 {
		t.Fatalf("add(2.5,1.5) = (%#v, %v), want (4.0, Continue)", v, code)
	}

	f.PopFrame()
	if f.Stack.Size() != 0 {
		t.Fatalf("stack not unwound: size = %d", f.Stack.Size())
	}
}

// TestCompileBuiltinUnknownName covers compileBuiltin's error path for a
// builtin name present in none of binaryOps, Builtins, or FiberBuiltins.
func TestCompileBuiltinUnknownName(t *testing.T) {
	c := newTestCompiler()
	n := &ast.Node{Kind: ast.Builtin, Name: "frobnicate", Args: nil}
	if _, err := c.compileBuiltin(n, newEnv()); err == nil {
		t.Fatal("compileBuiltin on an unknown name did not error")
	}
}

// TestCompileBuiltinNotAndOr exercises the non-binary-dispatch builtins
// (Builtins map), which bypass the call-site machinery entirely.
func TestCompileBuiltinNotAndOr(t *testing.T) {
	c := newTestCompiler()
	f := newTestFiber()
	cases := []struct {
		name string
		args []*ast.Node
		want bool
	}{
		{"not", []*ast.Node{{Kind: ast.Boolean, Data: false}}, true},
		{"and", []*ast.Node{{Kind: ast.Boolean, Data: true}, {Kind: ast.Boolean, Data: false}}, false},
		{"or", []*ast.Node{{Kind: ast.Boolean, Data: false}, {Kind: ast.Boolean, Data: true}}, true},
	}
	for _, tc := range cases {
		n := &ast.Node{Kind: ast.Builtin, Name: tc.name, Args: tc.args}
		cl, err := c.compileBuiltin(n, newEnv())
		if err != nil {
			t.Fatalf("%s: compileBuiltin: %v", tc.name, err)
		}
		v, code := cl(f)
		if code != dispatch.Continue || v.BoolVal() != tc.want {
			t.Fatalf("%s: got (%#v, %v), want (%v, Continue)", tc.name, v, code, tc.want)
		}
	}
}
