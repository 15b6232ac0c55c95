package ast_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/value"
)

func TestVarAndIgnoreConstructors(t *testing.T) {
	v := ast.Var("x")
	require.Equal(t, ast.ExprVar, v.Kind)
	require.Equal(t, "x", v.Name)

	ig := ast.Ignore()
	require.Equal(t, ast.ExprIgnore, ig.Kind)
}

func TestLitConstructor(t *testing.T) {
	l := ast.Lit(value.Int(42))
	require.Equal(t, ast.ExprLiteral, l.Kind)
	require.Equal(t, int64(42), l.Value.Int64())
}

func TestRefWithLiteralAndDynamicParts(t *testing.T) {
	base := ast.Var("input")
	idx := ast.Var("i")
	r := ast.Ref(base, ast.LitPart(value.String("role")), ast.DynPart(idx))

	require.Equal(t, ast.ExprRef, r.Kind)
	require.NotNil(t, r.Base)
	require.Equal(t, "input", r.Base.Name)
	require.Len(t, r.Path, 2)
	require.NotNil(t, r.Path[0].Lit)
	require.Equal(t, "role", r.Path[0].Lit.Str())
	require.Nil(t, r.Path[0].Dyn)
	require.Nil(t, r.Path[1].Lit)
	require.NotNil(t, r.Path[1].Dyn)
	require.Equal(t, "i", r.Path[1].Dyn.Name)
}

func TestArraySetObjectLitConstructors(t *testing.T) {
	arr := ast.ArrayLit(ast.Lit(value.Int(1)), ast.Lit(value.Int(2)))
	require.Equal(t, ast.ExprArrayLit, arr.Kind)
	require.Len(t, arr.Elems, 2)

	set := ast.SetLit(ast.Lit(value.Int(1)))
	require.Equal(t, ast.ExprSetLit, set.Kind)
	require.Len(t, set.Elems, 1)

	obj := ast.ObjectLit(ast.ObjectField{Key: ast.Lit(value.String("k")), Value: ast.Lit(value.Int(1))})
	require.Equal(t, ast.ExprObjectLit, obj.Kind)
	require.Len(t, obj.Fields, 1)
}

func TestBinaryAndNotConstructors(t *testing.T) {
	b := ast.Binary(ast.BinEq, ast.Var("a"), ast.Var("b"))
	require.Equal(t, ast.ExprBinary, b.Kind)
	require.Equal(t, ast.BinEq, b.Op)
	require.Equal(t, "a", b.L.Name)
	require.Equal(t, "b", b.R.Name)

	n := ast.Not(ast.Var("a"))
	require.Equal(t, ast.ExprNot, n.Kind)
	require.Equal(t, "a", n.X.Name)
}

func TestCallConstructor(t *testing.T) {
	c := ast.Call("count", ast.Var("xs"))
	require.Equal(t, ast.ExprCall, c.Kind)
	require.Equal(t, "count", c.CallName)
	require.Len(t, c.CallArgs, 1)
}

func TestComprehensionConstructor(t *testing.T) {
	body := &ast.Body{Stmts: []ast.Stmt{{Kind: ast.StmtExpr, Expr: ast.Var("x")}}}
	comp := ast.Compr(ast.Comprehension{
		Mode: ast.ComprehensionArray,
		Term: ast.Var("x"),
		Body: body,
	})
	require.Equal(t, ast.ExprComprehension, comp.Kind)
	require.NotNil(t, comp.Comprehension)
	require.Equal(t, ast.ComprehensionArray, comp.Comprehension.Mode)
	require.Same(t, body, comp.Comprehension.Body)
}

func TestModuleAndRuleShape(t *testing.T) {
	allow := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{
			{Stmts: []ast.Stmt{{Kind: ast.StmtExpr, Expr: ast.Binary(ast.BinEq,
				ast.Ref(ast.Var("input"), ast.LitPart(value.String("method"))),
				ast.Lit(value.String("GET")))}}},
		},
	}
	mod := &ast.Module{Package: "p", Rules: []*ast.Rule{allow}}

	require.Equal(t, "p", mod.Package)
	require.Len(t, mod.Rules, 1)
	require.Equal(t, "allow", mod.Rules[0].Name)
	require.Equal(t, ast.RuleComplete, mod.Rules[0].Kind)
	require.Len(t, mod.Rules[0].Bodies, 1)
}
