package ast

import (
	"bytes"
	"testing"
)

// TestIfElseConditionDecodesToExpr is a regression test for a nil-pointer
// bug the JIT compiler's compileIfElse once had: the decoder places an
// if_else_statement node's condition on Expr (the "expr" key, spec.md §6),
// never on a separate Cond field (which no longer exists on Node at all).
// internal/jit's compileIfElse must read n.Expr; this test pins down what
// the decoder actually produces so that expectation can't silently drift.
func TestIfElseConditionDecodesToExpr(t *testing.T) {
	n := &Node{
		Kind: IfElse,
		Expr: &Node{Kind: Boolean, Data: true},
		IfStmts: []*Node{
			{Kind: Integer, Data: int64(1)},
		},
		ElseStmts: []*Node{
			{Kind: Integer, Data: int64(0)},
		},
	}
	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeModule(n); err != nil {
		t.Fatalf("EncodeModule: %v", err)
	}
	got, err := NewDecoder(&buf).DecodeModule()
	if err != nil {
		t.Fatalf("DecodeModule: %v", err)
	}
	if got.Kind != IfElse {
		t.Fatalf("Kind = %v, want IfElse", got.Kind)
	}
	if got.Expr == nil {
		t.Fatal("Expr is nil after round-trip: the if_else_statement's condition was lost")
	}
	if got.Expr.Kind != Boolean || got.Expr.Data != true {
		t.Fatalf("Expr = %+v, want a Boolean(true) node", got.Expr)
	}
	if len(got.IfStmts) != 1 || got.IfStmts[0].Data != int64(1) {
		t.Fatalf("IfStmts = %+v", got.IfStmts)
	}
	if len(got.ElseStmts) != 1 || got.ElseStmts[0].Data != int64(0) {
		t.Fatalf("ElseStmts = %+v", got.ElseStmts)
	}
}

// TestNodeRoundTrip exercises a representative module tree (spec.md §8's
// round-trip invariant: encode then decode must reproduce every field a
// node actually carries) across the full field set nodeToMap/nodeFromMap
// recognize: scalars, a nested Value/Expr child, statement lists, Args,
// Parms/Locals/FreeVars string lists, Imports, and each Data payload shape
// (Integer, String, Boolean, Vector, Dict).
func TestNodeRoundTrip(t *testing.T) {
	module := &Node{
		Kind: Module,
		Imports: []*Node{
			{Kind: Import, Name: "mathutil", From: "mathutil.pck"},
		},
		Stmts: []*Node{
			{
				Kind:  Define,
				Name:  "answer",
				Value: &Node{Kind: Integer, Data: int64(42)},
				Line:  7,
			},
			{
				Kind:   Function,
				Name:   "add",
				Parms:  []string{"a", "b"},
				Locals: []string{"tmp"},
				FreeVars: []string{"offset"},
				Stmts: []*Node{
					{
						Kind: Return,
						Expr: &Node{
							Kind: Builtin,
							Name: "add",
							Args: []*Node{
								{Kind: Local, Name: "a"},
								{Kind: Local, Name: "b"},
							},
						},
					},
				},
			},
			{
				Kind: Vector,
				Data: []*Node{
					{Kind: Integer, Data: int64(1)},
					{Kind: String, Data: "two"},
					{Kind: Boolean, Data: false},
				},
			},
			{
				Kind: Dict,
				Data: []DictEntry{
					{Key: &Node{Kind: Keyword, Data: "k"}, Value: &Node{Kind: Integer, Data: int64(9)}},
				},
			},
		},
	}

	var buf bytes.Buffer
	if err := NewEncoder(&buf).EncodeModule(module); err != nil {
		t.Fatalf("EncodeModule: %v", err)
	}
	got, err := NewDecoder(&buf).DecodeModule()
	if err != nil {
		t.Fatalf("DecodeModule: %v", err)
	}

	if got.Kind != Module {
		t.Fatalf("Kind = %v, want Module", got.Kind)
	}
	if len(got.Imports) != 1 || got.Imports[0].Name != "mathutil" || got.Imports[0].From != "mathutil.pck" {
		t.Fatalf("Imports = %+v", got.Imports)
	}
	if len(got.Stmts) != 4 {
		t.Fatalf("Stmts count = %d, want 4", len(got.Stmts))
	}

	def := got.Stmts[0]
	if def.Kind != Define || def.Name != "answer" || def.Line != 7 {
		t.Fatalf("define node = %+v", def)
	}
	if def.Value == nil || def.Value.Kind != Integer || def.Value.Data != int64(42) {
		t.Fatalf("define.Value = %+v", def.Value)
	}

	fn := got.Stmts[1]
	if fn.Kind != Function || fn.Name != "add" {
		t.Fatalf("function node = %+v", fn)
	}
	if len(fn.Parms) != 2 || fn.Parms[0] != "a" || fn.Parms[1] != "b" {
		t.Fatalf("fn.Parms = %v", fn.Parms)
	}
	if len(fn.Locals) != 1 || fn.Locals[0] != "tmp" {
		t.Fatalf("fn.Locals = %v", fn.Locals)
	}
	if len(fn.FreeVars) != 1 || fn.FreeVars[0] != "offset" {
		t.Fatalf("fn.FreeVars = %v", fn.FreeVars)
	}
	if len(fn.Stmts) != 1 || fn.Stmts[0].Kind != Return {
		t.Fatalf("fn.Stmts = %+v", fn.Stmts)
	}
	builtin := fn.Stmts[0].Expr
	if builtin == nil || builtin.Kind != Builtin || builtin.Name != "add" {
		t.Fatalf("return.Expr = %+v", builtin)
	}
	if len(builtin.Args) != 2 || builtin.Args[0].Name != "a" || builtin.Args[1].Name != "b" {
		t.Fatalf("builtin.Args = %+v", builtin.Args)
	}

	vec := got.Stmts[2]
	items, ok := vec.Data.([]*Node)
	if vec.Kind != Vector || !ok || len(items) != 3 {
		t.Fatalf("vector node = %+v", vec)
	}
	if items[0].Data != int64(1) || items[1].Data != "two" || items[2].Data != false {
		t.Fatalf("vector items = %+v", items)
	}

	dict := got.Stmts[3]
	entries, ok := dict.Data.([]DictEntry)
	if dict.Kind != Dict || !ok || len(entries) != 1 {
		t.Fatalf("dict node = %+v", dict)
	}
	if entries[0].Key.Data != "k" || entries[0].Value.Data != int64(9) {
		t.Fatalf("dict entry = %+v", entries[0])
	}
}

// TestDecodeModuleRejectsNonMap covers one of the decoder's explicit error
// paths unrelated to I/O failure: a top-level record that isn't a map.
func TestDecodeModuleRejectsNonMap(t *testing.T) {
	var buf bytes.Buffer
	// A bare fixint (0x01) top-level record is a valid encoded value but
	// not a map.
	buf.WriteByte(0x01)
	if _, err := NewDecoder(&buf).DecodeModule(); err == nil {
		t.Fatal("DecodeModule on a non-map top-level record did not error")
	}
}
