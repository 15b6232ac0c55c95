package rvm

import (
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// callBuiltin resolves and invokes a builtin through
// Program.ResolvedBuiltins, mirroring the way Program defers actual
// builtin implementations to load time rather than persisting them.
func (vm *VM) callBuiltin(f *Frame, instr program.Instr) (value.Value, error) {
	cp := vm.Prog.Data.Calls[instr.Params]
	if int(cp.FuncIndex) >= len(vm.Prog.BuiltinInfoTable) {
		return value.Value{}, newErr(ErrBuiltinOutOfRange, f.PC, "builtin index %d out of range", cp.FuncIndex)
	}
	if int(cp.FuncIndex) >= len(vm.Prog.ResolvedBuiltins) || vm.Prog.ResolvedBuiltins[cp.FuncIndex] == nil {
		return value.Value{}, newErr(ErrBuiltinNotResolved, f.PC, "builtin %q has no resolved implementation", vm.Prog.BuiltinInfoTable[cp.FuncIndex].Name)
	}
	args := make([]value.Value, len(cp.ArgRegs))
	for i, r := range cp.ArgRegs {
		args[i] = f.reg(r)
	}
	v, err := vm.Prog.ResolvedBuiltins[cp.FuncIndex](args)
	if err != nil {
		return value.Value{}, newErr(ErrBuiltinFailed, f.PC, "builtin %q: %v", vm.Prog.BuiltinInfoTable[cp.FuncIndex].Name, err)
	}
	return v, nil
}

// callFunction delegates to the RuleCaller, since function rules
// specialize over their call-site arguments and are never cached
// (package dispatch owns that decision).
func (vm *VM) callFunction(f *Frame, instr program.Instr) (value.Value, error) {
	if vm.RuleCaller == nil {
		return value.Value{}, newErr(ErrRuleOutOfRange, f.PC, "no RuleCaller configured")
	}
	cp := vm.Prog.Data.Calls[instr.Params]
	if int(cp.FuncIndex) >= len(vm.Prog.RuleInfos) {
		return value.Value{}, newErr(ErrRuleOutOfRange, f.PC, "function rule index %d out of range", cp.FuncIndex)
	}
	args := make([]value.Value, len(cp.ArgRegs))
	for i, r := range cp.ArgRegs {
		args[i] = f.reg(r)
	}
	return vm.RuleCaller.CallFunction(vm, int(cp.FuncIndex), args)
}
