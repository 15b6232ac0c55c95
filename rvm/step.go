package rvm

import (
	"fmt"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// stepFrame executes exactly one instruction of f. It returns
// done=true when the frame has completed (OpRuleReturn/OpHalt), and
// otherwise advances f.PC itself — every branch is responsible for
// setting nextPC before returning.
func (vm *VM) stepFrame(f *Frame) (bool, error) {
	if int(f.PC) >= len(vm.Prog.Instructions) {
		return false, newErr(ErrBodyFailed, f.PC, "program counter ran off the end of the instruction stream")
	}
	instr := vm.Prog.Instructions[f.PC]
	vm.instructionCount++
	nextPC := f.PC + 1

	switch instr.Op {
	case program.OpLoad:
		f.setReg(instr.Dest, vm.literal(instr.Lit))
	case program.OpLoadTrue:
		f.setReg(instr.Dest, value.True)
	case program.OpLoadFalse:
		f.setReg(instr.Dest, value.False)
	case program.OpLoadNull:
		f.setReg(instr.Dest, value.Null)
	case program.OpLoadData:
		f.setReg(instr.Dest, vm.Data)
	case program.OpLoadInput:
		f.setReg(instr.Dest, vm.Input)
	case program.OpMove:
		f.setReg(instr.Dest, f.reg(instr.A))

	case program.OpAdd, program.OpSub, program.OpMul, program.OpDiv, program.OpMod:
		v, err := vm.arith(instr.Op, f.reg(instr.A), f.reg(instr.B))
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpEq, program.OpNe, program.OpLt, program.OpLe, program.OpGt, program.OpGe:
		v, err := value.CompareValues(compareOp(instr.Op), f.reg(instr.A), f.reg(instr.B), vm.strictBuiltinErrors)
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpAnd:
		v, err := value.And(f.reg(instr.A), f.reg(instr.B), vm.strictBuiltinErrors)
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)
	case program.OpOr:
		v, err := value.Or(f.reg(instr.A), f.reg(instr.B), vm.strictBuiltinErrors)
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)
	case program.OpNot:
		v, err := value.Not(f.reg(instr.A), vm.strictBuiltinErrors)
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpAssertCondition:
		ok, err := conditionHolds(f.reg(instr.A))
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		if !ok {
			target, err := vm.controlFailure(f)
			if err != nil {
				return false, err
			}
			nextPC = target
		}

	case program.OpAssertNotUndefined:
		if f.reg(instr.A).IsUndefined() {
			target, err := vm.controlFailure(f)
			if err != nil {
				return false, err
			}
			nextPC = target
		}

	case program.OpBuiltinCall:
		v, err := vm.callBuiltin(f, instr)
		if err != nil {
			return false, err
		}
		f.setReg(instr.Dest, v)

	case program.OpFunctionCall:
		v, err := vm.callFunction(f, instr)
		if err != nil {
			return false, err
		}
		f.setReg(instr.Dest, v)

	case program.OpCallRule:
		if vm.RuleCaller == nil {
			return false, newErr(ErrRuleOutOfRange, f.PC, "no RuleCaller configured")
		}
		v, err := vm.RuleCaller.CallRule(vm, int(instr.RuleIndex))
		if err != nil {
			return false, err
		}
		f.setReg(instr.Dest, v)

	case program.OpHostAwait:
		id := vm.literal(instr.Lit).Str()
		v, ok := vm.hostAwait.pop(id)
		if !ok {
			if vm.Mode == ModeSuspendable {
				return false, &suspendSignal{reason: SuspendHostAwait, id: id}
			}
			return false, newErr(ErrHostAwaitMissingResponse, f.PC, "no preloaded response for %q", id)
		}
		f.setReg(instr.Dest, v)

	case program.OpObjectCreate:
		f.setReg(instr.Dest, value.EmptyObject())
	case program.OpArrayCreate, program.OpArrayNew:
		f.setReg(instr.Dest, value.EmptyArray())
	case program.OpSetCreate, program.OpSetNew:
		f.setReg(instr.Dest, value.EmptySet())
	case program.OpObjectSet:
		f.setReg(instr.Dest, f.reg(instr.Dest).ObjectSet(f.reg(instr.A), f.reg(instr.B)))
	case program.OpArrayPush:
		f.setReg(instr.Dest, f.reg(instr.Dest).ArrayAppend(f.reg(instr.A)))
	case program.OpSetAdd:
		f.setReg(instr.Dest, f.reg(instr.Dest).SetAdd(f.reg(instr.A)))
	case program.OpCount:
		f.setReg(instr.Dest, value.Int(int64(f.reg(instr.A).Len())))
	case program.OpContains:
		coll := f.reg(instr.A)
		elem := f.reg(instr.B)
		var has bool
		switch coll.Kind() {
		case value.KindSet:
			has = coll.SetContains(elem)
		case value.KindArray:
			for _, v := range coll.Array() {
				if value.Equal(v, elem) {
					has = true
					break
				}
			}
		case value.KindObject:
			has = !coll.ObjectGet(elem).IsUndefined()
		}
		f.setReg(instr.Dest, value.Bool(has))

	case program.OpIndex:
		v, err := indexValue(f.reg(instr.A), f.reg(instr.B))
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpIndexLiteral:
		v, err := indexValue(f.reg(instr.A), vm.literal(instr.Lit))
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpChainedIndex:
		v, err := vm.chainedIndex(f, instr.Params)
		if err != nil {
			return false, newErr(ErrTypeMismatch, f.PC, "%v", err)
		}
		f.setReg(instr.Dest, v)

	case program.OpVirtualDataDocumentLookup:
		if vm.RuleCaller == nil {
			return false, newErr(ErrRuleDataConflict, f.PC, "no RuleCaller configured")
		}
		p := vm.Prog.Data.VDDLookups[instr.Params]
		comps := vm.resolveComponents(f, p.Components)
		v, err := vm.RuleCaller.VirtualDataDocument(vm, comps)
		if err != nil {
			return false, err
		}
		f.setReg(instr.Dest, v)

	case program.OpLoopStart:
		nextPC = vm.startLoop(f, instr)

	case program.OpLoopNext:
		target, err := vm.loopIterationDone(f, true)
		if err != nil {
			return false, err
		}
		nextPC = target

	case program.OpComprehensionBegin:
		nextPC = vm.startComprehension(f, instr)

	case program.OpComprehensionYield:
		target, err := vm.compAdvance(f, true, instr.A, instr.B)
		if err != nil {
			return false, err
		}
		nextPC = target

	case program.OpComprehensionEnd:
		// landing pad; finishComp already wrote the result register.

	case program.OpRuleInit:
		// structural marker only; dispatch has already set up argument
		// registers before jumping here.

	case program.OpDestructuringSuccess:
		// terminal: a destructuring block is run to this point and no
		// further, so the caller can seed each of the definition's
		// bodies from the same bound registers.
		return true, nil

	case program.OpRuleReturn:
		vm.lastResult = f.reg(instr.A)
		return true, nil

	case program.OpHalt:
		vm.lastResult = f.reg(instr.A)
		return true, nil

	case program.OpReturn:
		vm.lastResult = f.reg(instr.A)
		return true, nil

	default:
		return false, newErr(ErrBodyFailed, f.PC, "unimplemented opcode %s", instr.Op)
	}

	f.PC = nextPC
	return false, nil
}

func (vm *VM) literal(idx uint16) value.Value {
	if int(idx) >= len(vm.Prog.Literals) {
		return value.Undefined
	}
	return vm.Prog.Literals[idx]
}

func compareOp(op program.Op) value.CompareOp {
	switch op {
	case program.OpEq:
		return value.OpEq
	case program.OpNe:
		return value.OpNe
	case program.OpLt:
		return value.OpLt
	case program.OpLe:
		return value.OpLe
	case program.OpGt:
		return value.OpGt
	default:
		return value.OpGe
	}
}

func (vm *VM) arith(op program.Op, a, b value.Value) (value.Value, error) {
	switch op {
	case program.OpAdd:
		return value.Add(a, b)
	case program.OpSub:
		return value.Sub(a, b)
	case program.OpMul:
		return value.Mul(a, b)
	case program.OpDiv:
		return value.Div(a, b, vm.strictBuiltinErrors)
	default:
		return value.Mod(a, b, vm.strictBuiltinErrors)
	}
}

// conditionHolds implements AssertCondition's negation-as-failure
// routing: Undefined and false both mean "the condition did not
// hold", without being treated as a type error.
func conditionHolds(v value.Value) (bool, error) {
	switch v.Kind() {
	case value.KindUndefined:
		return false, nil
	case value.KindBool:
		return v.Bool(), nil
	default:
		return false, fmt.Errorf("asserted condition is not boolean: %s", v.Kind())
	}
}

func indexValue(container, key value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindArray:
		if key.Kind() != value.KindNumber {
			return value.Undefined, nil
		}
		return container.ArrayGet(int(key.Int64())), nil
	case value.KindObject:
		return container.ObjectGet(key), nil
	case value.KindSet:
		if container.SetContains(key) {
			return key, nil
		}
		return value.Undefined, nil
	case value.KindUndefined:
		return value.Undefined, nil
	default:
		return value.Value{}, fmt.Errorf("cannot index into %s", container.Kind())
	}
}

func (vm *VM) resolveComponents(f *Frame, comps []program.PathComponent) []string {
	out := make([]string, len(comps))
	for i, c := range comps {
		if c.Kind == program.PathLiteral {
			out[i] = vm.literal(c.Lit).Str()
		} else {
			out[i] = f.reg(c.Reg).Str()
		}
	}
	return out
}

func (vm *VM) chainedIndex(f *Frame, paramsIdx uint16) (value.Value, error) {
	p := vm.Prog.Data.ChainedIndexes[paramsIdx]
	cur := f.reg(p.Root)
	for _, c := range p.Components {
		var key value.Value
		if c.Kind == program.PathLiteral {
			key = vm.literal(c.Lit)
		} else {
			key = f.reg(c.Reg)
		}
		v, err := indexValue(cur, key)
		if err != nil {
			return value.Value{}, err
		}
		cur = v
		if cur.IsUndefined() {
			return value.Undefined, nil
		}
	}
	return cur, nil
}
