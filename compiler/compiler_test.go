package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/compiler"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

func ptr(e ast.Expr) *ast.Expr { return &e }

func litRef(base string, segs ...string) ast.Expr {
	parts := make([]ast.RefPart, len(segs))
	for i, s := range segs {
		v := value.String(s)
		parts[i] = ast.RefPart{Lit: &v}
	}
	return ast.Expr{Kind: ast.ExprRef, Base: &ast.Expr{Kind: ast.ExprVar, Name: base}, Path: parts}
}

func lit(v value.Value) ast.Expr { return ast.Expr{Kind: ast.ExprLiteral, Value: v} }

func ruleInfoByName(prog *program.Program, name string) (program.RuleInfo, bool) {
	for _, ri := range prog.RuleInfos {
		if ri.Name == name {
			return ri, true
		}
	}
	return program.RuleInfo{}, false
}

func TestCompileCompleteRuleRegistersEntryPoint(t *testing.T) {
	inputMethod := litRef("input", "method")
	rule := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputMethod, R: ptr(lit(value.String("GET")))}},
		}}},
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{rule}}})
	require.NoError(t, err)

	ri, ok := ruleInfoByName(prog, "p.allow")
	require.True(t, ok)
	require.Equal(t, program.RuleComplete, ri.Type)
	require.Len(t, ri.Definitions, 1)

	idx, ok := prog.EntryPointIndex("data.p.allow")
	require.True(t, ok)
	require.Less(t, int(idx), len(prog.Instructions))
}

func TestCompileTwoDefinitionsOfSameRuleGroupTogether(t *testing.T) {
	inputA := litRef("input", "a")
	inputB := litRef("input", "b")
	def1 := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputA, R: ptr(lit(value.True))}},
		}}},
	}
	def2 := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputB, R: ptr(lit(value.True))}},
		}}},
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{def1, def2}}})
	require.NoError(t, err)

	ri, ok := ruleInfoByName(prog, "p.allow")
	require.True(t, ok)
	require.Len(t, ri.Definitions, 2)

	// Only one RuleInfo was produced for the pair.
	count := 0
	for _, r := range prog.RuleInfos {
		if r.Name == "p.allow" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestCompileFunctionRuleHasNoEntryPoint(t *testing.T) {
	arg := ast.Var("x")
	rule := &ast.Rule{
		Name:      "double",
		Kind:      ast.RuleFunction,
		Args:      []ast.Expr{arg},
		ValueExpr: ptr(ast.Binary(ast.BinMul, ast.Var("x"), lit(value.Int(2)))),
		Bodies:    []*ast.Body{{}},
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{rule}}})
	require.NoError(t, err)

	ri, ok := ruleInfoByName(prog, "p.double")
	require.True(t, ok)
	require.True(t, ri.IsFunction())
	require.Equal(t, 1, ri.Function.Arity)

	_, ok = prog.EntryPointIndex("data.p.double")
	require.False(t, ok, "function rules are not directly queryable entry points")
}

func TestCompileDeduplicatesIdenticalLiterals(t *testing.T) {
	inputA := litRef("input", "a")
	inputB := litRef("input", "b")
	rule := &ast.Rule{
		Name: "both",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputA, R: ptr(lit(value.String("x")))}},
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputB, R: ptr(lit(value.String("x")))}},
		}}},
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{rule}}})
	require.NoError(t, err)

	seen := 0
	for _, l := range prog.Literals {
		if l.Kind() == value.KindString && l.Str() == "x" {
			seen++
		}
	}
	require.Equal(t, 1, seen, "identical literal \"x\" must be interned once")
}

func TestCompileDefaultRuleGetsDefaultLiteralIndex(t *testing.T) {
	inputEnabled := litRef("input", "enabled")
	rule := &ast.Rule{
		Name: "flag",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputEnabled, R: ptr(lit(value.True))}},
		}}},
		Default: ptr(lit(value.False)),
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{rule}}})
	require.NoError(t, err)

	ri, ok := ruleInfoByName(prog, "p.flag")
	require.True(t, ok)
	require.NotNil(t, ri.DefaultLiteralIndex)
	require.Equal(t, value.False, prog.Literals[*ri.DefaultLiteralIndex])
}

func TestCompileProducesValidProgram(t *testing.T) {
	inputMethod := litRef("input", "method")
	rule := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputMethod, R: ptr(lit(value.String("GET")))}},
		}}},
	}
	prog, err := compiler.Compile([]*ast.Module{{Package: "p", Rules: []*ast.Rule{rule}}})
	require.NoError(t, err)
	require.NoError(t, prog.Validate())
}
