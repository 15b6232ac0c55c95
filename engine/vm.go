package engine

import (
	"context"
	"time"

	"github.com/regovm/engine/dispatch"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/rvm"
	"github.com/regovm/engine/value"
)

// RegoVM is the single-entry-point surface an embedder drives (§6):
// an rvm.VM for instruction execution, fronted by a dispatch.Dispatcher
// so every entry-point evaluation gets rule caching, partial
// accumulation and virtual-data-document merge without the caller
// having to wire the two together itself.
type RegoVM struct {
	vm   *rvm.VM
	disp *dispatch.Dispatcher
}

// NewVM returns a RegoVM with no program loaded.
func NewVM() *RegoVM {
	return &RegoVM{disp: dispatch.New(0)}
}

// LoadProgram installs the program to execute and resets the
// dispatcher's caches. windowSize, if the program specifies one
// (program.DispatchWindowSize), is applied as the virtual-data-document
// LRU's capacity.
func (r *RegoVM) LoadProgram(p *program.Program) {
	r.vm = rvm.New(p)
	r.disp = dispatch.New(p.DispatchWindowSize)
}

func (r *RegoVM) SetData(d value.Value)             { r.vm.SetData(d) }
func (r *RegoVM) SetInput(i value.Value)             { r.vm.SetInput(i) }
func (r *RegoVM) SetMaxInstructions(n uint64)        { r.vm.SetMaxInstructions(n) }
func (r *RegoVM) SetExecutionMode(m rvm.ExecutionMode) { r.vm.SetExecutionMode(m) }
func (r *RegoVM) SetStrictBuiltinErrors(strict bool)  { r.vm.SetStrictBuiltinErrors(strict) }
func (r *RegoVM) SetStepMode(step bool)              { r.vm.SetStepMode(step) }
func (r *RegoVM) ExecutionState() rvm.ExecutionState { return r.vm.State() }
func (r *RegoVM) SuspendReason() rvm.SuspendReason   { return r.vm.SuspendReasonValue() }

// SetExecutionTimerConfig bounds wall-clock evaluation time; checked
// every checkEvery instructions.
func (r *RegoVM) SetExecutionTimerConfig(limit time.Duration, checkEvery uint64) {
	r.vm.SetExecutionTimerConfig(limit, checkEvery)
}

// SetHostAwaitResponses preloads responses consumed FIFO by
// OpHostAwait as the suspendable driver reaches them.
func (r *RegoVM) SetHostAwaitResponses(responses map[string][]value.Value) {
	r.vm.SetHostAwaitResponses(responses)
}

// Execute evaluates the program's recorded main entry point (set by
// Engine.CompileWithEntrypoint). A program compiled with
// CompileForTarget leaves MainEntryPoint at its zero value, so Execute
// then starts at instruction 0 rather than at a chosen rule; it does
// not report an error for that case.
func (r *RegoVM) Execute(ctx context.Context) (value.Value, error) {
	return r.disp.ExecuteEntryPointByIndex(ctx, r.vm, r.vm.Prog.MainEntryPoint)
}

// ExecuteEntryPointByName evaluates the named rule path.
func (r *RegoVM) ExecuteEntryPointByName(ctx context.Context, path string) (value.Value, error) {
	return r.disp.ExecuteEntryPointByName(ctx, r.vm, path)
}

// ExecuteEntryPointByIndex evaluates the entry point at instruction
// index pc, for a caller that already resolved the index (e.g. from a
// cached program.EntryPoint lookup).
func (r *RegoVM) ExecuteEntryPointByIndex(ctx context.Context, pc uint32) (value.Value, error) {
	return r.disp.ExecuteEntryPointByIndex(ctx, r.vm, pc)
}

// Resume continues a suspended evaluation (§6); only meaningful in
// ModeSuspendable after Execute/ExecuteEntryPointBy* returned with
// ExecutionState()==StateSuspended.
func (r *RegoVM) Resume(ctx context.Context) (value.Value, error) {
	return r.vm.Resume(ctx)
}
