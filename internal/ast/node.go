// Package ast defines the deserialized abstract syntax tree the runtime
// loads from a compiled .pck file (spec.md §6 "AST file format") and the
// node/key vocabulary the JIT emitter (internal/jit) compiles from
// (spec.md §4.5).
//
// The lexer and parser that *produce* a .pck file from source are
// explicitly out of core scope (spec.md §1); this package owns the
// decoded in-memory tree, the binary-format contract needed to read one
// (decode.go), and an Encoder (encode.go) that writes the same format.
package ast

// Kind enumerates the recognized node kinds (spec.md §6 "Recognized node
// kinds").
type Kind string

const (
	Module        Kind = "module"
	Define        Kind = "define"
	Let           Kind = "let"
	Function      Kind = "function"
	Struct        Kind = "struct"
	StructField   Kind = "struct_field"
	Import        Kind = "import"
	IfElse        Kind = "if_else_statement"
	Local         Kind = "local"
	Return        Kind = "return"
	Recur         Kind = "recur"
	Call          Kind = "call"
	Builtin       Kind = "builtin"
	Symbol        Kind = "symbol"
	Global        Kind = "global"
	Vector        Kind = "vector"
	Dict          Kind = "dict"
	Integer       Kind = "integer"
	Keyword       Kind = "keyword"
	String        Kind = "string"
	Boolean       Kind = "boolean"
)

// Node is the decoded representation of one AST record (spec.md §6
// "Recognized keys"). Not every field is meaningful for every Kind; see
// the per-Kind comment beside each field.
type Node struct {
	Kind Kind
	Line int64

	Name string // define, function, struct_field, import, local, symbol, global

	Value *Node // define, let: the bound expression
	From  string // import: source module path

	Expr *Node // let, return, struct_field: the node's single sub-expression; if_else_statement: its condition

	Stmts     []*Node // module, do-style bodies
	IfStmts   []*Node // if_else_statement
	ElseStmts []*Node // if_else_statement

	Args  []*Node // call, recur: argument expressions
	Parms []string // function: parameter names
	Locals []string // function: local slot names resolved by the compiler

	FreeVars []string // function: captured free-variable names
	Imports  []*Node  // module: import nodes

	// Data carries literal/leaf payloads: int64 for Integer, string for
	// String/Keyword, bool for Boolean, []*Node for Vector, a
	// []DictEntry for Dict.
	Data interface{}

	// Callable, for a Builtin node dispatching on operand kind (spec.md
	// §4.5's Binary kind: add, sub, mul, div, eq, neq, lt, lte, gt, gte),
	// is resolved by the compiler to a *dispatch.CallSite exactly once,
	// at compile time. Call nodes (first-class function application)
	// never populate this field: they invoke directly through
	// jit.InvokeFunction instead, since a compiled function body's Local
	// references need the calling fiber, which dispatch.Method's
	// signature cannot carry (see internal/jit's compileCall). Stored as
	// interface{} to avoid an import cycle: internal/dispatch depends on
	// internal/value, not on internal/ast, but the JIT emitter which
	// depends on both attaches the resolved call site here.
	Callable interface{}
}

// DictEntry is one key/value pair of a Dict literal node.
type DictEntry struct {
	Key   *Node
	Value *Node
}
