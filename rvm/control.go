package rvm

import (
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// materializeIterable expands a collection Value into parallel
// elements/keys slices: array index, set element-as-own-key, or
// object key. Any other kind yields no iterations.
func materializeIterable(coll value.Value) ([]value.Value, []value.Value) {
	switch coll.Kind() {
	case value.KindArray:
		arr := coll.Array()
		keys := make([]value.Value, len(arr))
		for i := range arr {
			keys[i] = value.Int(int64(i))
		}
		return arr, keys
	case value.KindSet:
		elems := coll.SetElements()
		return elems, elems
	case value.KindObject:
		entries := coll.ObjectEntries()
		elems := make([]value.Value, len(entries))
		keys := make([]value.Value, len(entries))
		for i, e := range entries {
			keys[i] = e[0]
			elems[i] = e[1]
		}
		return elems, keys
	default:
		return nil, nil
	}
}

// controlFailure routes an AssertCondition/AssertNotUndefined failure
// to whatever construct owns the current position: the innermost
// active loop treats it as "this iteration didn't match" and advances,
// the innermost comprehension treats it as "this element is filtered
// out", and with no active construct it is a genuine body failure.
func (vm *VM) controlFailure(f *Frame) (uint32, error) {
	cf := f.innermost()
	if cf == nil {
		return 0, newErr(ErrBodyFailed, f.PC, "body condition failed")
	}
	switch cf.kind {
	case ctrlLoop:
		return vm.loopIterationDone(f, false)
	case ctrlComp:
		return vm.compAdvance(f, false, 0, 0)
	default:
		return 0, newErr(ErrBodyFailed, f.PC, "body condition failed")
	}
}

func (vm *VM) startLoop(f *Frame, instr program.Instr) uint32 {
	p := vm.Prog.Data.Loops[instr.Params]
	elements, keys := materializeIterable(f.reg(p.Collection))
	lp := &loopFrame{
		mode:      p.Mode,
		elements:  elements,
		keys:      keys,
		resultReg: p.ResultReg,
		keyReg:    p.KeyReg,
		valueReg:  p.ValueReg,
		bodyStart: p.BodyStart,
		loopEnd:   p.LoopEnd,
		everyOK:   true,
	}
	f.pushLoop(lp)
	if len(elements) == 0 {
		end, _ := vm.finishLoop(f)
		return end
	}
	bindLoopElement(f, lp)
	return lp.bodyStart
}

// loopIterationDone records the outcome of one loop iteration (per
// the construct's LoopMode) and advances to the next element, or
// finishes the loop once the collection is exhausted.
func (vm *VM) loopIterationDone(f *Frame, success bool) (uint32, error) {
	cf := f.innermost()
	lp := cf.loop

	switch lp.mode {
	case program.LoopAny:
		if success {
			lp.anyHit = true
		}
	case program.LoopEvery:
		if !success {
			lp.everyOK = false
		}
	case program.LoopForEach:
		if success {
			lp.forEachAcc = append(lp.forEachAcc, value.True)
		}
	}
	lp.pos++

	if lp.mode == program.LoopEvery && !lp.everyOK {
		return vm.finishLoop(f)
	}
	if lp.pos >= len(lp.elements) {
		return vm.finishLoop(f)
	}
	bindLoopElement(f, lp)
	return lp.bodyStart, nil
}

func (vm *VM) finishLoop(f *Frame) (uint32, error) {
	cf := f.innermost()
	lp := cf.loop
	var result value.Value
	switch lp.mode {
	case program.LoopAny:
		result = value.Bool(lp.anyHit)
	case program.LoopEvery:
		result = value.Bool(lp.everyOK)
	case program.LoopForEach:
		result = value.True
	}
	f.setReg(lp.resultReg, result)
	end := lp.loopEnd
	f.popCtrl()
	return end, nil
}

func bindLoopElement(f *Frame, lp *loopFrame) {
	f.setReg(lp.valueReg, lp.elements[lp.pos])
	if lp.keyReg != 0 {
		f.setReg(lp.keyReg, lp.keys[lp.pos])
	}
}

func (vm *VM) startComprehension(f *Frame, instr program.Instr) uint32 {
	p := vm.Prog.Data.Comprehensions[instr.Params]
	elements, keys := materializeIterable(f.reg(p.Collection))
	cp := &comprehensionFrame{
		mode:      p.Mode,
		elements:  elements,
		keys:      keys,
		resultReg: p.ResultReg,
		keyReg:    p.KeyReg,
		valueReg:  p.ValueReg,
		bodyStart: p.BodyStart,
		end:       p.End,
	}
	switch p.Mode {
	case program.ComprehensionArray:
		cp.arrAcc = []value.Value{}
	case program.ComprehensionSet:
		cp.setAcc = value.EmptySet()
	case program.ComprehensionObject:
		cp.objAcc = value.EmptyObject()
	}
	f.pushComp(cp)
	if len(elements) == 0 {
		end, _ := vm.finishComp(f)
		return end
	}
	bindCompElement(f, cp)
	return cp.bodyStart
}

// compAdvance records a comprehension element's outcome. accumulate is
// true at ComprehensionYield (the filter body held, so termReg/keyReg
// are valid) and false when controlFailure routes a failed assertion
// here (the element is dropped, nothing accumulates).
func (vm *VM) compAdvance(f *Frame, accumulate bool, termReg, keyReg uint8) (uint32, error) {
	cf := f.innermost()
	cp := cf.comp
	if accumulate {
		term := f.reg(termReg)
		switch cp.mode {
		case program.ComprehensionArray:
			cp.arrAcc = append(cp.arrAcc, term)
		case program.ComprehensionSet:
			cp.setAcc = cp.setAcc.SetAdd(term)
		case program.ComprehensionObject:
			cp.objAcc = cp.objAcc.ObjectSet(f.reg(keyReg), term)
		}
	}
	cp.pos++
	if cp.pos >= len(cp.elements) {
		return vm.finishComp(f)
	}
	bindCompElement(f, cp)
	return cp.bodyStart, nil
}

func (vm *VM) finishComp(f *Frame) (uint32, error) {
	cf := f.innermost()
	cp := cf.comp
	var result value.Value
	switch cp.mode {
	case program.ComprehensionArray:
		result = value.Array(cp.arrAcc...)
	case program.ComprehensionSet:
		result = cp.setAcc
	case program.ComprehensionObject:
		result = cp.objAcc
	}
	f.setReg(cp.resultReg, result)
	end := cp.end
	f.popCtrl()
	return end, nil
}

func bindCompElement(f *Frame, cp *comprehensionFrame) {
	f.setReg(cp.valueReg, cp.elements[cp.pos])
	if cp.keyReg != 0 {
		f.setReg(cp.keyReg, cp.keys[cp.pos])
	}
}
