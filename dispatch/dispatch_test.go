package dispatch_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/compiler"
	"github.com/regovm/engine/dispatch"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

func mustCompile(t *testing.T, modules ...*ast.Module) *program.Program {
	t.Helper()
	prog, err := compiler.Compile(modules)
	require.NoError(t, err)
	return prog
}

func ruleIndex(t *testing.T, prog *program.Program, name string) int {
	t.Helper()
	for i, ri := range prog.RuleInfos {
		if ri.Name == name {
			return i
		}
	}
	t.Fatalf("no rule named %q", name)
	return -1
}

func litRef(base string, segs ...string) ast.Expr {
	parts := make([]ast.RefPart, len(segs))
	for i, s := range segs {
		v := value.String(s)
		parts[i] = ast.RefPart{Lit: &v}
	}
	return ast.Expr{Kind: ast.ExprRef, Base: &ast.Expr{Kind: ast.ExprVar, Name: base}, Path: parts}
}

func lit(v value.Value) ast.Expr { return ast.Expr{Kind: ast.ExprLiteral, Value: v} }

// allow { input.method == "GET" }
func TestCallRule_CompleteRuleSucceeds(t *testing.T) {
	inputMethod := litRef("input", "method")
	rule := &ast.Rule{
		Name: "allow",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputMethod, R: ptr(lit(value.String("GET")))}},
		}}},
	}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{rule}})

	vm := rvm.New(prog)
	vm.SetInput(value.EmptyObject().ObjectSet(value.String("method"), value.String("GET")))
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	v, err := d.CallRule(vm, ruleIndex(t, prog, "p.allow"))
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

// flag { input.enabled == true } default flag = false
func TestCallRule_DefaultValueOnBodyFailure(t *testing.T) {
	inputEnabled := litRef("input", "enabled")
	defaultVal := value.Bool(false)
	rule := &ast.Rule{
		Name: "flag",
		Kind: ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{
			{Kind: ast.StmtExpr, Expr: ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputEnabled, R: ptr(lit(value.True))}},
		}}},
		Default: ptr(lit(defaultVal)),
	}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{rule}})

	vm := rvm.New(prog)
	vm.SetInput(value.EmptyObject().ObjectSet(value.String("enabled"), value.False))
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	v, err := d.CallRule(vm, ruleIndex(t, prog, "p.flag"))
	require.NoError(t, err)
	require.Equal(t, value.False, v)
}

// two complete-rule definitions disagreeing on their value resolve to Undefined.
func TestCallRule_CompleteRuleInconsistentResolvesUndefined(t *testing.T) {
	ruleA := &ast.Rule{Name: "x", Kind: ast.RuleComplete, ValueExpr: ptr(lit(value.Int(1)))}
	ruleB := &ast.Rule{Name: "x", Kind: ast.RuleComplete, ValueExpr: ptr(lit(value.Int(2)))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{ruleA, ruleB}})

	vm := rvm.New(prog)
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	v, err := d.CallRule(vm, ruleIndex(t, prog, "p.x"))
	require.NoError(t, err)
	require.True(t, v.IsUndefined())
}

// roles["admin"] { true }; roles["user"] { true } accumulate into a set.
func TestCallRule_PartialSetAccumulates(t *testing.T) {
	admin := &ast.Rule{Name: "roles", Kind: ast.RulePartialSet, KeyExpr: lit(value.String("admin"))}
	user := &ast.Rule{Name: "roles", Kind: ast.RulePartialSet, KeyExpr: lit(value.String("user"))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{admin, user}})

	vm := rvm.New(prog)
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	v, err := d.CallRule(vm, ruleIndex(t, prog, "p.roles"))
	require.NoError(t, err)
	require.Equal(t, value.KindSet, v.Kind())
	require.True(t, v.SetContains(value.String("admin")))
	require.True(t, v.SetContains(value.String("user")))
	require.Equal(t, 2, v.Len())
}

// m["x"] = 1 { true }; m["x"] = 2 { true } conflict on the same key.
func TestCallRule_PartialObjectConflictIsError(t *testing.T) {
	defA := &ast.Rule{Name: "m", Kind: ast.RulePartialObject, KeyExpr: lit(value.String("x")), ValueExpr: ptr(lit(value.Int(1)))}
	defB := &ast.Rule{Name: "m", Kind: ast.RulePartialObject, KeyExpr: lit(value.String("x")), ValueExpr: ptr(lit(value.Int(2)))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{defA, defB}})

	vm := rvm.New(prog)
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	_, err := d.CallRule(vm, ruleIndex(t, prog, "p.m"))
	require.Error(t, err)
}

// A virtual data document lookup at an interior path merges static
// data with the evaluated rule group beneath it.
func TestVirtualDataDocument_MergesStaticDataWithRules(t *testing.T) {
	allow := &ast.Rule{Name: "allow", Kind: ast.RuleComplete, ValueExpr: ptr(lit(value.True))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{allow}})

	vm := rvm.New(prog)
	vm.SetData(value.EmptyObject().ObjectSet(value.String("p"),
		value.EmptyObject().ObjectSet(value.String("extra"), value.Int(7))))
	d := dispatch.New(prog.DispatchWindowSize)
	vm.RuleCaller = d

	v, err := d.VirtualDataDocument(vm, []string{"p"})
	require.NoError(t, err)
	require.Equal(t, value.True, v.ObjectGet(value.String("allow")))
	require.Equal(t, value.Int(7), v.ObjectGet(value.String("extra")))
}

// Data holding a non-undefined value at a rule's own path is a conflict.
func TestCheckRuleDataConflict_DetectsLeafConflict(t *testing.T) {
	allow := &ast.Rule{Name: "allow", Kind: ast.RuleComplete, ValueExpr: ptr(lit(value.True))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{allow}})

	conflicting := value.EmptyObject().ObjectSet(value.String("p"),
		value.EmptyObject().ObjectSet(value.String("allow"), value.True))
	err := dispatch.CheckRuleDataConflict(prog, conflicting)
	require.Error(t, err)

	clean := value.EmptyObject().ObjectSet(value.String("p"),
		value.EmptyObject().ObjectSet(value.String("other"), value.True))
	require.NoError(t, dispatch.CheckRuleDataConflict(prog, clean))
}

// End-to-end: ExecuteEntryPointByName resets caches and dispatches
// through the VM's normal entry-point path.
func TestExecuteEntryPointByName(t *testing.T) {
	allow := &ast.Rule{Name: "allow", Kind: ast.RuleComplete, ValueExpr: ptr(lit(value.True))}
	prog := mustCompile(t, &ast.Module{Package: "p", Rules: []*ast.Rule{allow}})

	vm := rvm.New(prog)
	d := dispatch.New(prog.DispatchWindowSize)

	v, err := d.ExecuteEntryPointByName(context.Background(), vm, "data.p.allow")
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

func ptr(e ast.Expr) *ast.Expr { return &e }
