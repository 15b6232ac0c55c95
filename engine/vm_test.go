package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/engine"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

func TestRegoVMExecuteAndExecuteEntryPointByName(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())
	cp, err := e.CompileWithEntrypoint("data.p.allow")
	require.NoError(t, err)

	rv := engine.NewVM()
	rv.LoadProgram(cp.Program)
	rv.SetInput(value.EmptyObject().ObjectSet(value.String("method"), value.String("GET")))

	v, err := rv.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.True, v)
	require.Equal(t, rvm.StateCompleted, rv.ExecutionState())

	rv2 := engine.NewVM()
	rv2.LoadProgram(cp.Program)
	rv2.SetInput(value.EmptyObject().ObjectSet(value.String("method"), value.String("POST")))
	v2, err := rv2.ExecuteEntryPointByName(context.Background(), "data.p.allow")
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v2)
}

func TestRegoVMExecuteEntryPointByIndex(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())
	cp, err := e.CompileForTarget()
	require.NoError(t, err)

	idx, ok := cp.Program.EntryPointIndex("data.p.allow")
	require.True(t, ok)

	rv := engine.NewVM()
	rv.LoadProgram(cp.Program)
	rv.SetInput(value.EmptyObject().ObjectSet(value.String("method"), value.String("GET")))

	v, err := rv.ExecuteEntryPointByIndex(context.Background(), idx)
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

func TestRegoVMStrictBuiltinErrorsAndLimitsAreSettable(t *testing.T) {
	e := engine.New()
	e.AddPolicy("p.rego", allowModule())
	cp, err := e.CompileWithEntrypoint("data.p.allow")
	require.NoError(t, err)

	rv := engine.NewVM()
	rv.LoadProgram(cp.Program)
	rv.SetMaxInstructions(10)
	rv.SetStrictBuiltinErrors(true)
	rv.SetExecutionMode(rvm.ModeRunToCompletion)
	rv.SetInput(value.EmptyObject().ObjectSet(value.String("method"), value.String("GET")))

	_, err = rv.Execute(context.Background())
	require.NoError(t, err)
}
