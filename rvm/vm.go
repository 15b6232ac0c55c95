// Package rvm implements the register-based virtual machine that
// executes program.Program bytecode (§5, §6). It knows nothing about
// rule caching, accumulation or the virtual data document merge —
// those live in package dispatch, which the VM calls back into
// through the RuleCaller interface for CallRule/FunctionCall/VDD
// lookups, the same way program.Program defers builtin execution to
// ResolvedBuiltins.
package rvm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// ExecutionMode selects between the two execution strategies (§6).
type ExecutionMode int

const (
	ModeRunToCompletion ExecutionMode = iota
	ModeSuspendable
)

// ExecutionState is the coarse state machine exposed to callers.
type ExecutionState int

const (
	StateReady ExecutionState = iota
	StateRunning
	StateSuspended
	StateCompleted
	StateFailed
)

func (s ExecutionState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SuspendReason explains why Execute/Resume returned without a
// result while State()==StateSuspended.
type SuspendReason int

const (
	SuspendNone SuspendReason = iota
	SuspendHostAwait
	SuspendBreakpoint
	SuspendStep
	SuspendExternal
)

// RuleCaller is the dispatcher's callback surface into the VM. It is
// set once before execution begins; CallRule/FunctionCall/VDD lookup
// opcodes all delegate to it rather than being interpreted inline,
// keeping caching/accumulation/merge semantics entirely in package
// dispatch (§4.4).
type RuleCaller interface {
	CallRule(vm *VM, ruleIndex int) (value.Value, error)
	CallFunction(vm *VM, ruleIndex int, args []value.Value) (value.Value, error)
	VirtualDataDocument(vm *VM, components []string) (value.Value, error)
}

// loopFrame is the live state of one active LoopStart..LoopNext
// range, pushed when LoopStart executes and popped when the loop's
// iteration is exhausted.
type loopFrame struct {
	mode      program.LoopMode
	elements  []value.Value
	keys      []value.Value // nil for single-variable (array/set-style) iteration
	pos       int
	resultReg uint8
	keyReg    uint8
	valueReg  uint8
	bodyStart uint32
	loopEnd   uint32

	anyHit     bool
	everyOK    bool
	forEachAcc []value.Value
}

// comprehensionFrame is the live state of one active
// ComprehensionBegin..ComprehensionEnd range.
type comprehensionFrame struct {
	mode      program.ComprehensionMode
	elements  []value.Value
	keys      []value.Value
	pos       int
	resultReg uint8
	keyReg    uint8
	valueReg  uint8
	bodyStart uint32
	end       uint32

	arrAcc []value.Value
	setAcc value.Value
	objAcc value.Value
}

// ctrlKind tags one entry of a Frame's control stack.
type ctrlKind int

const (
	ctrlLoop ctrlKind = iota
	ctrlComp
)

// ctrlFrame is one active LoopStart..LoopNext or
// ComprehensionBegin..ComprehensionEnd range. Loops and comprehensions
// share a single stack (rather than two independent ones) so that
// "innermost active control construct" is well defined even when a
// comprehension body contains its own `every` statement.
type ctrlFrame struct {
	kind ctrlKind
	loop *loopFrame
	comp *comprehensionFrame
}

// Frame is one register window (§4.1): the entry-point frame, or one
// pushed per nested rule/function body execution driven through
// RunBody.
type Frame struct {
	Regs []value.Value
	PC   uint32

	ctrl []*ctrlFrame
}

func (f *Frame) reg(r uint8) value.Value {
	if int(r) >= len(f.Regs) {
		return value.Undefined
	}
	return f.Regs[r]
}

func (f *Frame) setReg(r uint8, v value.Value) {
	for int(r) >= len(f.Regs) {
		f.Regs = append(f.Regs, value.Undefined)
	}
	f.Regs[r] = v
}

func (f *Frame) innermost() *ctrlFrame {
	if len(f.ctrl) == 0 {
		return nil
	}
	return f.ctrl[len(f.ctrl)-1]
}

func (f *Frame) pushLoop(lp *loopFrame) { f.ctrl = append(f.ctrl, &ctrlFrame{kind: ctrlLoop, loop: lp}) }

func (f *Frame) pushComp(cp *comprehensionFrame) {
	f.ctrl = append(f.ctrl, &ctrlFrame{kind: ctrlComp, comp: cp})
}

func (f *Frame) popCtrl() { f.ctrl = f.ctrl[:len(f.ctrl)-1] }

// VM executes one compiled program. A VM is single-use per
// entry-point evaluation and not safe for concurrent use; evaluating
// concurrently means running one VM per goroutine against the same
// (read-only) *program.Program.
type VM struct {
	Prog  *program.Program
	Data  value.Value
	Input value.Value

	RuleCaller RuleCaller

	Mode          ExecutionMode
	state         ExecutionState
	suspendReason SuspendReason

	frames []*Frame

	instructionCount uint64
	maxInstructions  uint64
	timerLimit       time.Duration
	timerCheckEvery  uint64
	startedAt        time.Time

	strictBuiltinErrors bool
	stepMode            bool

	hostAwait *hostAwaitQueues

	Breakpoints *BreakpointManager
	Watchpoints *WatchpointManager

	lastResult value.Value

	// suspendedHostAwaitID is the identifier the top-level frame is
	// blocked on, set when SuspendHostAwait is returned.
	suspendedHostAwaitID string

	// suspendedWatchpointID is the watchpoint that fired, set when
	// SuspendExternal is returned.
	suspendedWatchpointID int

	// skipBreakpointOnce is set by Resume after a breakpoint suspension
	// so the first tick steps past the breakpoint that just fired.
	skipBreakpointOnce bool

	// ctx is the context passed to ExecuteEntryPointByIndex/Resume,
	// recorded here rather than threaded through RuleCaller/RunBody so
	// that nested rule evaluations (run synchronously, many Go call
	// frames below the entry point) still observe cancellation through
	// the same runFrames driver as the outermost frame.
	ctx context.Context
}

// New returns a VM ready to load a program.
func New(p *program.Program) *VM {
	return &VM{
		Prog:            p,
		Data:            value.EmptyObject(),
		Input:           value.Null,
		Mode:            ModeRunToCompletion,
		state:           StateReady,
		maxInstructions: 10_000_000,
		timerCheckEvery: 1000,
		hostAwait:       newHostAwaitQueues(),
		Breakpoints:     NewBreakpointManager(),
		Watchpoints:     NewWatchpointManager(),
		lastResult:      value.Undefined,
	}
}

func (vm *VM) SetData(d value.Value)                  { vm.Data = d }
func (vm *VM) SetInput(i value.Value)                 { vm.Input = i }
func (vm *VM) SetMaxInstructions(n uint64)             { vm.maxInstructions = n }
func (vm *VM) SetExecutionMode(m ExecutionMode)        { vm.Mode = m }
func (vm *VM) SetStrictBuiltinErrors(strict bool)      { vm.strictBuiltinErrors = strict }
func (vm *VM) SetStepMode(step bool)                   { vm.stepMode = step }
func (vm *VM) State() ExecutionState                   { return vm.state }
func (vm *VM) SuspendReasonValue() SuspendReason       { return vm.suspendReason }
func (vm *VM) SuspendedHostAwaitID() string            { return vm.suspendedHostAwaitID }
func (vm *VM) SuspendedWatchpointID() int              { return vm.suspendedWatchpointID }

// SetExecutionTimerConfig bounds wall-clock time; checked every
// checkEvery instructions to keep the check itself cheap.
func (vm *VM) SetExecutionTimerConfig(limit time.Duration, checkEvery uint64) {
	vm.timerLimit = limit
	if checkEvery > 0 {
		vm.timerCheckEvery = checkEvery
	}
}

// SetHostAwaitResponses preloads responses for the given identifiers,
// consumed FIFO as OpHostAwait instructions reference them (§5).
func (vm *VM) SetHostAwaitResponses(responses map[string][]value.Value) {
	for id, vs := range responses {
		for _, v := range vs {
			vm.hostAwait.push(id, v)
		}
	}
}

// ExecuteEntryPointByName resets VM state and begins execution at a
// named entry point (§6).
func (vm *VM) ExecuteEntryPointByName(ctx context.Context, path string) (value.Value, error) {
	idx, ok := vm.Prog.EntryPointIndex(path)
	if !ok {
		return value.Undefined, fmt.Errorf("rvm: no entry point %q", path)
	}
	return vm.ExecuteEntryPointByIndex(ctx, idx)
}

// ExecuteEntryPointByIndex resets VM state and begins execution at an
// explicit instruction index.
func (vm *VM) ExecuteEntryPointByIndex(ctx context.Context, pc uint32) (value.Value, error) {
	vm.frames = []*Frame{{Regs: make([]value.Value, 64), PC: pc}}
	vm.instructionCount = 0
	vm.startedAt = time.Now()
	vm.state = StateRunning
	vm.suspendReason = SuspendNone
	vm.lastResult = value.Undefined
	vm.ctx = ctx
	return vm.run()
}

// Resume continues execution after a suspension. Because breakpoints,
// watchpoints, step-mode and HostAwait can all fire from inside a
// nested rule/function call (§4.4 dispatches through CallRule/
// CallFunction synchronously), vm.frames may hold several frames deep
// when suspended; Resume leaves that whole stack untouched and lets
// runFrames pick back up wherever it left off.
func (vm *VM) Resume(ctx context.Context) (value.Value, error) {
	if vm.state != StateSuspended {
		return value.Undefined, fmt.Errorf("rvm: Resume called while state is %s, not suspended", vm.state)
	}
	vm.state = StateRunning
	vm.skipBreakpointOnce = vm.suspendReason == SuspendBreakpoint
	vm.suspendReason = SuspendNone
	vm.suspendedHostAwaitID = ""
	vm.suspendedWatchpointID = 0
	vm.ctx = ctx
	return vm.run()
}

// suspendSignal is a lightweight sentinel error used to unwind
// stepFrame back to runFrames without disturbing vm.frames, so Resume
// can continue from the exact same PC - including a PC several frames
// below the top, when the suspending instruction was inside a nested
// rule/function call.
type suspendSignal struct {
	reason SuspendReason
	id     string
}

func (s *suspendSignal) Error() string { return "rvm: suspended" }

// errSuspended is returned internally by runFrames once vm.state/
// vm.suspendReason have already been recorded; run() and
// RunBody/RunBodyWithRegs each translate it into their own return
// shape rather than treating it as a hard failure.
var errSuspended = errors.New("rvm: suspended")

// run drives the entire frame stack to completion, failure or
// suspension.
func (vm *VM) run() (value.Value, error) {
	if err := vm.runFrames(0); err != nil {
		if errors.Is(err, errSuspended) {
			return value.Undefined, nil
		}
		return value.Undefined, err
	}
	vm.state = StateCompleted
	return vm.lastResult, nil
}

// runFrames is the single frame-stack-aware driver: it steps whichever
// frame is topmost - the entry-point frame, or a frame pushed by a
// nested rule/function call via RunBody/RunBodyWithRegs - checking
// limits, breakpoints, watchpoints and step-mode on every tick
// regardless of stack depth, and returns once the stack has unwound
// back to stopDepth frames (the depth observed before the caller
// pushed its own frame; 0 for the top-level entry point). A genuine
// suspension (breakpoint/watchpoint/step/HostAwait) leaves every frame
// above stopDepth in place and returns errSuspended so Resume can
// continue exactly where execution left off, at whatever depth that
// was.
func (vm *VM) runFrames(stopDepth int) error {
	for len(vm.frames) > stopDepth {
		select {
		case <-vm.ctx.Done():
			vm.state = StateFailed
			return vm.ctx.Err()
		default:
		}

		f := vm.frames[len(vm.frames)-1]

		if err := vm.checkLimits(f.PC); err != nil {
			vm.state = StateFailed
			return err
		}

		if vm.Mode == ModeSuspendable {
			if vm.skipBreakpointOnce {
				vm.skipBreakpointOnce = false
			} else if bp := vm.Breakpoints.ProcessHit(f.PC); bp != nil {
				vm.state = StateSuspended
				vm.suspendReason = SuspendBreakpoint
				return errSuspended
			}
			if wp, hit := vm.Watchpoints.CheckWatchpoints(vm); hit {
				vm.state = StateSuspended
				vm.suspendReason = SuspendExternal
				vm.suspendedWatchpointID = wp.ID
				return errSuspended
			}
			if vm.stepMode {
				vm.stepMode = false
				vm.state = StateSuspended
				vm.suspendReason = SuspendStep
				return errSuspended
			}
		}

		done, err := vm.stepFrame(f)
		if err != nil {
			if ss, ok := err.(*suspendSignal); ok {
				vm.state = StateSuspended
				vm.suspendReason = ss.reason
				vm.suspendedHostAwaitID = ss.id
				return errSuspended
			}
			if errors.Is(err, errSuspended) {
				// A nested RunBodyWithRegs (reached through
				// OpCallRule/OpFunctionCall) already recorded
				// vm.state/suspendReason; propagate unchanged.
				return errSuspended
			}
			vm.state = StateFailed
			return err
		}
		if done {
			vm.frames = vm.frames[:len(vm.frames)-1]
		}
	}
	return nil
}

func (vm *VM) checkLimits(pc uint32) error {
	if vm.maxInstructions > 0 && vm.instructionCount >= vm.maxInstructions {
		return newErr(ErrInstructionLimitExceeded, pc, "exceeded %d instructions", vm.maxInstructions)
	}
	if vm.timerLimit > 0 && vm.instructionCount%vm.timerCheckEvery == 0 {
		if time.Since(vm.startedAt) > vm.timerLimit {
			return newErr(ErrTimeLimitExceeded, pc, "exceeded %s", vm.timerLimit)
		}
	}
	return nil
}

// RunBody executes one body's instruction range to completion
// synchronously, in a fresh register window seeded with initial
// (e.g. function-argument) registers. It is the entry point package
// dispatch uses to try each candidate definition/body of a rule.
func (vm *VM) RunBody(pc uint32, initialRegs []value.Value) (value.Value, error) {
	_, v, err := vm.RunBodyWithRegs(pc, initialRegs)
	return v, err
}

// RunBodyWithRegs is RunBody plus the completed frame's final register
// contents. A destructuring block (terminated by OpDestructuringSuccess
// rather than OpRuleReturn/OpHalt) leaves the returned value.Value
// meaningless — callers that run a destructuring block only want the
// bound registers, then seed each of the definition's bodies from them.
//
// The pushed frame is driven by the same runFrames used for the
// entry-point frame, so a breakpoint/watchpoint/step/HostAwait inside a
// nested rule or function call suspends exactly like one at the top
// level (§4.4 dispatches CallRule/CallFunction synchronously from
// stepFrame, so "nested" here just means "further down vm.frames", not
// a separate execution mode). On a genuine suspension the pushed frame
// is left on vm.frames - untouched, not popped - since Resume continues
// driving the stack from wherever runFrames stopped, however deep.
func (vm *VM) RunBodyWithRegs(pc uint32, initialRegs []value.Value) ([]value.Value, value.Value, error) {
	if vm.ctx == nil {
		vm.ctx = context.Background()
	}
	f := &Frame{Regs: append([]value.Value{}, initialRegs...), PC: pc}
	vm.frames = append(vm.frames, f)
	stopDepth := len(vm.frames) - 1

	if err := vm.runFrames(stopDepth); err != nil {
		if errors.Is(err, errSuspended) {
			return nil, value.Undefined, err
		}
		vm.frames = vm.frames[:stopDepth]
		return nil, value.Undefined, err
	}

	return f.Regs, vm.lastResult, nil
}
