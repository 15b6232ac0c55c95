package rvm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

// trueProgram is the smallest possible rule body: load true, return it.
func trueProgram() *program.Program {
	return &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpLoadTrue, Dest: 0},
			{Op: program.OpRuleReturn, A: 0},
		},
	}
}

func TestExecuteEntryPointByIndexRunToCompletion(t *testing.T) {
	vm := rvm.New(trueProgram())
	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.True, v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

func TestExecuteEntryPointByNameUnknownPathErrors(t *testing.T) {
	vm := rvm.New(trueProgram())
	_, err := vm.ExecuteEntryPointByName(context.Background(), "data.p.missing")
	require.Error(t, err)
}

func TestInstructionLimitExceededFailsExecution(t *testing.T) {
	vm := rvm.New(trueProgram())
	vm.SetMaxInstructions(1)
	_, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.Error(t, err)
	require.Equal(t, rvm.StateFailed, vm.State())
}

func TestTimeLimitExceededFailsExecution(t *testing.T) {
	vm := rvm.New(trueProgram())
	vm.SetExecutionTimerConfig(1*time.Nanosecond, 1)
	_, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.Error(t, err)
	require.Equal(t, rvm.StateFailed, vm.State())
}

func TestBreakpointSuspendsAndResumeCompletes(t *testing.T) {
	prog := &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpLoadTrue, Dest: 0},
			{Op: program.OpMove, Dest: 1, A: 0},
			{Op: program.OpRuleReturn, A: 1},
		},
	}
	vm := rvm.New(prog)
	vm.SetExecutionMode(rvm.ModeSuspendable)
	vm.Breakpoints.AddBreakpoint(1, false, "")

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendBreakpoint, vm.SuspendReasonValue())

	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.True, v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

func TestStepModeSuspendsOnceThenResumeCompletes(t *testing.T) {
	vm := rvm.New(trueProgram())
	vm.SetExecutionMode(rvm.ModeSuspendable)
	vm.SetStepMode(true)

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendStep, vm.SuspendReasonValue())

	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.True, v)
}

func TestResumeWhileNotSuspendedErrors(t *testing.T) {
	vm := rvm.New(trueProgram())
	_, err := vm.Resume(context.Background())
	require.Error(t, err)
}

// hostAwaitProgram awaits a host value under id "x" and returns it.
func hostAwaitProgram() *program.Program {
	return &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpHostAwait, Dest: 0, Lit: 0},
			{Op: program.OpRuleReturn, A: 0},
		},
		Literals: []value.Value{value.String("x")},
	}
}

func TestHostAwaitSuspendsInSuspendableModeThenResumesWithPreloadedResponse(t *testing.T) {
	vm := rvm.New(hostAwaitProgram())
	vm.SetExecutionMode(rvm.ModeSuspendable)

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendHostAwait, vm.SuspendReasonValue())
	require.Equal(t, "x", vm.SuspendedHostAwaitID())

	vm.SetHostAwaitResponses(map[string][]value.Value{"x": {value.Int(42)}})
	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.Int(42), v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

func TestHostAwaitWithoutResponseFailsInRunToCompletionMode(t *testing.T) {
	vm := rvm.New(hostAwaitProgram())
	_, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.Error(t, err)
	require.Equal(t, rvm.StateFailed, vm.State())
}

// fakeRuleCaller stands in for package dispatch's Dispatcher: CallRule
// drives a nested body through RunBody exactly the way a compiled
// trampoline's OpCallRule does, without pulling in package dispatch
// (which would make rvm_test depend on its own downstream consumer).
type fakeRuleCaller struct{ bodyPC uint32 }

func (c fakeRuleCaller) CallRule(vm *rvm.VM, ruleIndex int) (value.Value, error) {
	return vm.RunBody(c.bodyPC, nil)
}
func (fakeRuleCaller) CallFunction(vm *rvm.VM, ruleIndex int, args []value.Value) (value.Value, error) {
	return value.Undefined, nil
}
func (fakeRuleCaller) VirtualDataDocument(vm *rvm.VM, components []string) (value.Value, error) {
	return value.Undefined, nil
}

// TestBreakpointInsideNestedRuleCallSuspendsAndResumes exercises the
// compiled entry-point shape - a two-instruction OpCallRule/
// OpRuleReturn trampoline that dispatches into a nested rule body via
// RunBody - to confirm a breakpoint set inside that nested body is
// actually observed, not just one set in the trampoline's own frame.
func TestBreakpointInsideNestedRuleCallSuspendsAndResumes(t *testing.T) {
	prog := &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpCallRule, Dest: 0, RuleIndex: 0}, // 0: trampoline
			{Op: program.OpRuleReturn, A: 0},                // 1
			{Op: program.OpLoadTrue, Dest: 0},                // 2: nested body
			{Op: program.OpMove, Dest: 1, A: 0},              // 3
			{Op: program.OpRuleReturn, A: 1},                 // 4
		},
	}
	vm := rvm.New(prog)
	vm.RuleCaller = fakeRuleCaller{bodyPC: 2}
	vm.SetExecutionMode(rvm.ModeSuspendable)
	vm.Breakpoints.AddBreakpoint(3, true, "") // temporary: fires once, then steps past

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendBreakpoint, vm.SuspendReasonValue())

	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.True, v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

// TestHostAwaitInsideNestedRuleCallSuspends confirms OpHostAwait
// suspends from inside a nested rule body too, not only at frame
// depth 1 - the gate this removes used to make HostAwait hard-error
// the moment it ran through any compiled entry-point trampoline.
func TestHostAwaitInsideNestedRuleCallSuspends(t *testing.T) {
	prog := &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpCallRule, Dest: 0, RuleIndex: 0}, // 0: trampoline
			{Op: program.OpRuleReturn, A: 0},                // 1
			{Op: program.OpHostAwait, Dest: 0, Lit: 0},       // 2: nested body
			{Op: program.OpRuleReturn, A: 0},                 // 3
		},
		Literals: []value.Value{value.String("x")},
	}
	vm := rvm.New(prog)
	vm.RuleCaller = fakeRuleCaller{bodyPC: 2}
	vm.SetExecutionMode(rvm.ModeSuspendable)

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendHostAwait, vm.SuspendReasonValue())
	require.Equal(t, "x", vm.SuspendedHostAwaitID())

	vm.SetHostAwaitResponses(map[string][]value.Value{"x": {value.Int(7)}})
	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.Int(7), v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

// TestWatchpointSuspendsOnRegisterChange confirms WatchpointManager is
// actually wired into the driver loop: a watch on register 0 must
// suspend with SuspendExternal once for the register's pre-execution
// contents (an armed watchpoint's LastValue starts Undefined, and a
// fresh register window starts Null - uninitialized-vs-never-seen is
// itself a change) and once more when OpLoadTrue writes to it.
func TestWatchpointSuspendsOnRegisterChange(t *testing.T) {
	prog := &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpLoadTrue, Dest: 0},
			{Op: program.OpMove, Dest: 1, A: 0},
			{Op: program.OpRuleReturn, A: 1},
		},
	}
	vm := rvm.New(prog)
	vm.SetExecutionMode(rvm.ModeSuspendable)
	vm.Watchpoints.AddWatchpoint(rvm.WatchWrite, "", 0)

	v, err := vm.ExecuteEntryPointByIndex(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendExternal, vm.SuspendReasonValue())

	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.Undefined, v)
	require.Equal(t, rvm.StateSuspended, vm.State())
	require.Equal(t, rvm.SuspendExternal, vm.SuspendReasonValue())

	v, err = vm.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, value.True, v)
	require.Equal(t, rvm.StateCompleted, vm.State())
}

func TestRunBodyReturnsValueFromFreshRegisterWindow(t *testing.T) {
	prog := &program.Program{
		Instructions: []program.Instr{
			{Op: program.OpMove, Dest: 1, A: 0},
			{Op: program.OpRuleReturn, A: 1},
		},
	}
	vm := rvm.New(prog)
	v, err := vm.RunBody(0, []value.Value{value.String("hi")})
	require.NoError(t, err)
	require.Equal(t, value.String("hi"), v)
}

func TestBreakpointManagerAddDeleteEnableDisable(t *testing.T) {
	bm := rvm.NewBreakpointManager()
	bp := bm.AddBreakpoint(5, false, "")
	require.True(t, bm.HasBreakpoint(5))

	require.NoError(t, bm.DisableBreakpoint(bp.ID))
	require.False(t, bm.HasBreakpoint(5))

	require.NoError(t, bm.EnableBreakpoint(bp.ID))
	require.True(t, bm.HasBreakpoint(5))

	require.NoError(t, bm.DeleteBreakpointAt(5))
	require.False(t, bm.HasBreakpoint(5))
	require.Equal(t, 0, bm.Count())
}

func TestBreakpointProcessHitDeletesTemporary(t *testing.T) {
	bm := rvm.NewBreakpointManager()
	bm.AddBreakpoint(3, true, "")

	hit := bm.ProcessHit(3)
	require.NotNil(t, hit)
	require.Equal(t, 1, hit.HitCount)
	require.False(t, bm.HasBreakpoint(3))
}
