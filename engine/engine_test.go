package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/engine"
	"github.com/regovm/engine/value"
)

func ptr(e ast.Expr) *ast.Expr { return &e }
func lit(v value.Value) ast.Expr { return ast.Expr{Kind: ast.ExprLiteral, Value: v} }

func allowModule() *ast.Module {
	inputMethod := ast.Expr{Kind: ast.ExprRef, Base: &ast.Expr{Kind: ast.ExprVar, Name: "input"},
		Path: []ast.RefPart{{Lit: ptrVal(value.String("method"))}}}
	eq := ast.Expr{Kind: ast.ExprBinary, Op: ast.BinEq, L: &inputMethod, R: ptr(lit(value.String("GET")))}
	allow := &ast.Rule{
		Name:   "allow",
		Kind:   ast.RuleComplete,
		Bodies: []*ast.Body{{Stmts: []ast.Stmt{{Kind: ast.StmtExpr, Expr: eq}}}},
	}
	return &ast.Module{Package: "p", Rules: []*ast.Rule{allow}}
}

func ptrVal(v value.Value) *value.Value { return &v }

func TestEngineCompileWithEntrypointAssignsStableIDs(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())

	cp1, err := e.CompileWithEntrypoint("data.p.allow")
	require.NoError(t, err)
	cp2, err := e.CompileWithEntrypoint("data.p.allow")
	require.NoError(t, err)

	require.NotEmpty(t, cp1.ID)
	require.NotEmpty(t, cp2.ID)
	require.NotEqual(t, cp1.ID, cp2.ID)

	idx, ok := cp1.Program.EntryPointIndex("data.p.allow")
	require.True(t, ok)
	require.Equal(t, idx, cp1.Program.MainEntryPoint)
}

func TestEngineCompileWithEntrypointUnknownPathErrors(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())

	_, err := e.CompileWithEntrypoint("p.nope")
	require.Error(t, err)
}

func TestEngineAddDataDeepMerge(t *testing.T) {
	e := engine.New()
	e.AddData(value.EmptyObject().ObjectSet(value.String("a"), value.EmptyObject().ObjectSet(value.String("x"), value.Int(1))))
	e.AddData(value.EmptyObject().ObjectSet(value.String("a"), value.EmptyObject().ObjectSet(value.String("y"), value.Int(2))))
	e.AddPolicy("p.rego", allowModule())

	cp, err := e.CompileForTarget()
	require.NoError(t, err)
	require.NotNil(t, cp.Program)
}

func TestCompiledPolicySerializeDeserializeRoundTrip(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())
	cp, err := e.CompileWithEntrypoint("data.p.allow")
	require.NoError(t, err)

	data, err := cp.Serialize()
	require.NoError(t, err)

	restored, art, status, err := engine.DeserializeCompiledPolicy(data)
	require.NoError(t, err)
	require.Equal(t, engine.Complete, status)
	require.NotNil(t, restored)
	require.NotEmpty(t, restored.ID)
	require.NotEqual(t, cp.ID, restored.ID)
	require.Equal(t, cp.Program.Instructions, restored.Program.Instructions)
	require.Equal(t, cp.Program.EntryPoints, art.EntryPoints)
}

func TestCompilePolicyWithEntrypointConvenience(t *testing.T) {
	cp, err := engine.CompilePolicyWithEntrypoint(value.EmptyObject(), []*ast.Module{allowModule()}, "data.p.allow")
	require.NoError(t, err)
	require.NotNil(t, cp.Program)
}
