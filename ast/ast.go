// Package ast defines the minimal syntax tree the compiler consumes.
// The textual lexer/parser that produces these nodes is an external
// collaborator (spec §1) and is not built by this module; this
// package is the frozen shape a parser would hand the compiler, and
// is what compiler package tests build by hand to exercise lowering.
package ast

import "github.com/regovm/engine/value"

// Module is one compiled policy module: a package path plus its rule
// definitions. Multiple modules in the same package contribute
// multiple Rule values with the same Name to the same RuleInfo.
type Module struct {
	Package string
	Rules   []*Rule
}

// RuleKind distinguishes the rule-head shapes the compiler must
// lower distinctly (§3, §4.1).
type RuleKind int

const (
	RuleComplete RuleKind = iota
	RulePartialSet
	RulePartialObject
	RuleFunction
)

// Rule is one textual rule definition ("definition" in the glossary).
// Two Rule values in a Module sharing Name/Kind are two definitions of
// the same logical rule; the compiler groups them into one
// program.RuleInfo.
type Rule struct {
	Name string
	Kind RuleKind

	// Args holds function parameter patterns, only for RuleFunction.
	Args []Expr

	// KeyExpr is the partial-set member expr / partial-object key expr.
	KeyExpr Expr
	// ValueExpr is the complete-rule / function-rule / partial-object
	// value expr. For a bodyless complete rule ("allow { true }") this
	// is nil and the value defaults to Bool(true).
	ValueExpr *Expr

	// Default, if non-nil, must be a Literal; it is lowered to
	// RuleInfo.DefaultLiteralIndex. Only one definition per rule name
	// may carry a default.
	Default *Expr

	Bodies []*Body
}

// Body is a single `{ ... }` block (§ glossary).
type Body struct {
	Stmts []Stmt
}

// StmtKind distinguishes the handful of statement shapes a rule body
// may contain.
type StmtKind int

const (
	StmtExpr StmtKind = iota
	StmtAssign
	StmtSome
	StmtEvery
	StmtNot
)

// Stmt is one statement within a Body.
type Stmt struct {
	Kind StmtKind

	Expr   Expr    // StmtExpr (asserted truthy/defined); StmtNot (the negated expr)
	Assign *Assign // StmtAssign
	Some   *Some   // StmtSome
	Every  *Every  // StmtEvery
}

// AssignOp distinguishes `:=` (declare+destructure) from `=` (unify).
type AssignOp int

const (
	AssignColonEquals AssignOp = iota
	AssignEquals
)

// Assign is one `:=` or `=` occurrence; the compiler computes an
// AssignmentPlan from this shape (§4.1).
type Assign struct {
	Op  AssignOp
	LHS Expr
	RHS Expr
}

// Some is `some <vars> in <collection>`. Vars is one pattern (a
// simple loop: `some x in xs`) or two (`some k, v in xs`).
type Some struct {
	Vars       []Expr
	Collection Expr
}

// Every is `every <key>, <value> in <collection> { body }` (and its
// `for each` / `any` synonyms, distinguished by Mode).
type Every struct {
	Key        *Expr // nil when only a value variable is bound
	Value      Expr
	Collection Expr
	Body       *Body
	Mode       QuantifierMode
}

// QuantifierMode distinguishes `any`/`every`/`for each` (§4.1, §4.3).
type QuantifierMode int

const (
	QuantifierEvery QuantifierMode = iota
	QuantifierAny
	QuantifierForEach
)

// ExprKind discriminates the Expr union.
type ExprKind int

const (
	ExprVar ExprKind = iota
	ExprIgnore
	ExprLiteral
	ExprRef
	ExprArrayLit
	ExprSetLit
	ExprObjectLit
	ExprBinary
	ExprNot
	ExprCall
	ExprComprehension
)

// Expr is the syntax-tree expression node. It doubles as a pattern
// node in destructuring positions (function args, assignment LHS,
// `some`/`every` binders): Var/Ignore/ArrayLit/ObjectLit/Literal are
// all valid patterns, matching Rego's "patterns are expressions with
// unbound vars" rule.
type Expr struct {
	Kind ExprKind

	// ExprVar
	Name string

	// ExprLiteral
	Value value.Value

	// ExprRef: Base[Path...], e.g. input.role or data.p.allow or arr[i].
	Base *Expr
	Path []RefPart

	// ExprArrayLit / ExprSetLit
	Elems []Expr

	// ExprObjectLit
	Fields []ObjectField

	// ExprBinary
	Op   BinOp
	L, R *Expr

	// ExprNot
	X *Expr

	// ExprCall
	CallName string
	CallArgs []Expr

	// ExprComprehension
	Comprehension *Comprehension
}

// RefPart is one segment of a Ref chain: either a compile-time
// constant key (Lit != nil) or a dynamic index (Dyn != nil).
type RefPart struct {
	Lit *value.Value
	Dyn *Expr
}

// ObjectField is one `key: value` entry of an object literal or
// object pattern.
type ObjectField struct {
	Key   Expr
	Value Expr
}

// BinOp is the fixed set of binary operators the compiler lowers.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDiv
	BinMod
	BinEq
	BinNe
	BinLt
	BinLe
	BinGt
	BinGe
	BinAnd
	BinOr
)

// ComprehensionMode mirrors program.ComprehensionMode without
// introducing a dependency from ast on program.
type ComprehensionMode int

const (
	ComprehensionArray ComprehensionMode = iota
	ComprehensionSet
	ComprehensionObject
)

// Comprehension is `[Term | Body]` / `{Term | Body}` / `{Key: Term | Body}`.
type Comprehension struct {
	Mode ComprehensionMode
	Key  *Expr // only for ComprehensionObject
	Term Expr
	Body *Body
}

// Constructors, for readability at call sites (compiler tests and
// any future parser adapter).

func Var(name string) Expr { return Expr{Kind: ExprVar, Name: name} }

func Ignore() Expr { return Expr{Kind: ExprIgnore} }

func Lit(v value.Value) Expr { return Expr{Kind: ExprLiteral, Value: v} }

func Ref(base Expr, path ...RefPart) Expr {
	b := base
	return Expr{Kind: ExprRef, Base: &b, Path: path}
}

func LitPart(v value.Value) RefPart { return RefPart{Lit: &v} }

func DynPart(e Expr) RefPart { return RefPart{Dyn: &e} }

func ArrayLit(elems ...Expr) Expr { return Expr{Kind: ExprArrayLit, Elems: elems} }

func SetLit(elems ...Expr) Expr { return Expr{Kind: ExprSetLit, Elems: elems} }

func ObjectLit(fields ...ObjectField) Expr { return Expr{Kind: ExprObjectLit, Fields: fields} }

func Binary(op BinOp, l, r Expr) Expr { return Expr{Kind: ExprBinary, Op: op, L: &l, R: &r} }

func Not(x Expr) Expr { return Expr{Kind: ExprNot, X: &x} }

func Call(name string, args ...Expr) Expr { return Expr{Kind: ExprCall, CallName: name, CallArgs: args} }

func Compr(c Comprehension) Expr { return Expr{Kind: ExprComprehension, Comprehension: &c} }
