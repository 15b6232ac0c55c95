package artifact

import (
	"bytes"
	"time"

	"github.com/regovm/engine/program"
)

// encodeExtensible writes everything Program carries beyond the
// forward-compatible artifact section: instructions, the parameter-
// block side tables, rule infos, builtin infos, spans, and metadata.
// A future version may append new fields after these without an old
// reader needing to understand them, since this section's length is
// always known up front (§4.5): decodeExtensible reads the fields it
// knows and ignores any bytes left after them. A section that ends
// before those fields are complete fails to decode, and Deserialize
// then flags the artifact NeedsRecompilation.
func encodeExtensible(buf *bytes.Buffer, p *program.Program) error {
	writeU32(buf, uint32(len(p.Instructions)))
	for _, instr := range p.Instructions {
		encodeInstr(buf, instr)
	}

	if err := encodeInstructionData(buf, &p.Data); err != nil {
		return err
	}

	writeU32(buf, uint32(len(p.RuleInfos)))
	for _, ri := range p.RuleInfos {
		encodeRuleInfo(buf, ri)
	}

	writeU32(buf, uint32(len(p.BuiltinInfoTable)))
	for _, bi := range p.BuiltinInfoTable {
		writeBytes(buf, []byte(bi.Name))
		writeU32(buf, uint32(bi.Arity))
	}

	writeU32(buf, uint32(len(p.InstructionSpans)))
	for _, sp := range p.InstructionSpans {
		writeU32(buf, uint32(sp.Source))
		writeU32(buf, uint32(sp.Line))
		writeU32(buf, uint32(sp.Col))
		writeU32(buf, uint32(sp.EndLine))
		writeU32(buf, uint32(sp.EndCol))
	}

	writeU32(buf, p.MainEntryPoint)
	writeU32(buf, uint32(p.MaxRuleWindowSize))
	writeU32(buf, uint32(p.DispatchWindowSize))

	writeBytes(buf, []byte(p.Metadata.CompilerVersion))
	writeU64(buf, uint64(p.Metadata.CompiledAt.UnixNano()))

	writeBool(buf, p.NeedsRuntimeRecursionCheck)

	return nil
}

func decodeExtensible(r *bytes.Reader, art *Artifact) (*program.Program, error) {
	instrCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	instrs := make([]program.Instr, instrCount)
	for i := range instrs {
		instrs[i], err = decodeInstr(r)
		if err != nil {
			return nil, err
		}
	}

	data, err := decodeInstructionData(r)
	if err != nil {
		return nil, err
	}

	riCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	ruleInfos := make([]program.RuleInfo, riCount)
	for i := range ruleInfos {
		ruleInfos[i], err = decodeRuleInfo(r)
		if err != nil {
			return nil, err
		}
	}

	biCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	builtinInfos := make([]program.BuiltinInfo, biCount)
	for i := range builtinInfos {
		name, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		arity, err := readU32(r)
		if err != nil {
			return nil, err
		}
		builtinInfos[i] = program.BuiltinInfo{Name: string(name), Arity: int(arity)}
	}

	spanCount, err := readU32(r)
	if err != nil {
		return nil, err
	}
	spans := make([]program.Span, spanCount)
	for i := range spans {
		src, err := readU32(r)
		if err != nil {
			return nil, err
		}
		line, err := readU32(r)
		if err != nil {
			return nil, err
		}
		col, err := readU32(r)
		if err != nil {
			return nil, err
		}
		endLine, err := readU32(r)
		if err != nil {
			return nil, err
		}
		endCol, err := readU32(r)
		if err != nil {
			return nil, err
		}
		spans[i] = program.Span{Source: int(src), Line: int(line), Col: int(col), EndLine: int(endLine), EndCol: int(endCol)}
	}

	mainEntry, err := readU32(r)
	if err != nil {
		return nil, err
	}
	maxRuleWindow, err := readU32(r)
	if err != nil {
		return nil, err
	}
	dispatchWindow, err := readU32(r)
	if err != nil {
		return nil, err
	}

	compilerVersion, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	compiledAtNanos, err := readU64(r)
	if err != nil {
		return nil, err
	}

	recursionCheck, err := readBool(r)
	if err != nil {
		return nil, err
	}

	p := &program.Program{
		Instructions:       instrs,
		Literals:           art.Literals,
		Data:               data,
		BuiltinInfoTable:   builtinInfos,
		RuleInfos:          ruleInfos,
		InstructionSpans:   spans,
		EntryPoints:        art.EntryPoints,
		Sources:            art.Sources,
		RuleTree:           art.RuleTree,
		MainEntryPoint:     mainEntry,
		MaxRuleWindowSize:  int(maxRuleWindow),
		DispatchWindowSize: int(dispatchWindow),
		Metadata: program.Metadata{
			CompilerVersion: string(compilerVersion),
			CompiledAt:      time.Unix(0, int64(compiledAtNanos)).UTC(),
		},
		NeedsRuntimeRecursionCheck: recursionCheck,
		RegoV0:                     art.RegoV0,
	}
	return p, nil
}

func encodeInstr(buf *bytes.Buffer, instr program.Instr) {
	buf.WriteByte(byte(instr.Op))
	buf.WriteByte(instr.Dest)
	buf.WriteByte(instr.A)
	buf.WriteByte(instr.B)
	writeU16(buf, instr.Lit)
	writeU16(buf, instr.RuleIndex)
	writeU16(buf, instr.Params)
	writeU32(buf, instr.Jump)
}

func decodeInstr(r *bytes.Reader) (program.Instr, error) {
	op, err := r.ReadByte()
	if err != nil {
		return program.Instr{}, err
	}
	dest, err := r.ReadByte()
	if err != nil {
		return program.Instr{}, err
	}
	a, err := r.ReadByte()
	if err != nil {
		return program.Instr{}, err
	}
	b, err := r.ReadByte()
	if err != nil {
		return program.Instr{}, err
	}
	lit, err := readU16(r)
	if err != nil {
		return program.Instr{}, err
	}
	ruleIdx, err := readU16(r)
	if err != nil {
		return program.Instr{}, err
	}
	params, err := readU16(r)
	if err != nil {
		return program.Instr{}, err
	}
	jump, err := readU32(r)
	if err != nil {
		return program.Instr{}, err
	}
	return program.Instr{
		Op: program.Op(op), Dest: dest, A: a, B: b,
		Lit: lit, RuleIndex: ruleIdx, Params: params, Jump: jump,
	}, nil
}

func encodeInstructionData(buf *bytes.Buffer, d *program.InstructionData) error {
	writeU32(buf, uint32(len(d.Loops)))
	for _, lp := range d.Loops {
		buf.WriteByte(byte(lp.Mode))
		buf.WriteByte(lp.Collection)
		buf.WriteByte(lp.KeyReg)
		buf.WriteByte(lp.ValueReg)
		buf.WriteByte(lp.ResultReg)
		writeU32(buf, lp.BodyStart)
		writeU32(buf, lp.LoopEnd)
	}

	writeU32(buf, uint32(len(d.Comprehensions)))
	for _, cp := range d.Comprehensions {
		buf.WriteByte(byte(cp.Mode))
		buf.WriteByte(cp.Collection)
		buf.WriteByte(cp.KeyReg)
		buf.WriteByte(cp.ValueReg)
		buf.WriteByte(cp.ResultReg)
		writeU32(buf, cp.BodyStart)
		writeU32(buf, cp.End)
	}

	writeU32(buf, uint32(len(d.ChainedIndexes)))
	for _, ci := range d.ChainedIndexes {
		buf.WriteByte(ci.Root)
		encodePathComponents(buf, ci.Components)
	}

	writeU32(buf, uint32(len(d.VDDLookups)))
	for _, vl := range d.VDDLookups {
		encodePathComponents(buf, vl.Components)
	}

	writeU32(buf, uint32(len(d.ContainerCreates)))
	for _, cc := range d.ContainerCreates {
		writeU32(buf, uint32(cc.SizeHint))
	}

	writeU32(buf, uint32(len(d.Calls)))
	for _, c := range d.Calls {
		writeU16(buf, c.FuncIndex)
		buf.WriteByte(byte(len(c.ArgRegs)))
		buf.Write(c.ArgRegs)
	}

	return nil
}

func decodeInstructionData(r *bytes.Reader) (program.InstructionData, error) {
	var d program.InstructionData

	n, err := readU32(r)
	if err != nil {
		return d, err
	}
	d.Loops = make([]program.LoopParams, n)
	for i := range d.Loops {
		mode, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		coll, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		key, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		val, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		res, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		bodyStart, err := readU32(r)
		if err != nil {
			return d, err
		}
		loopEnd, err := readU32(r)
		if err != nil {
			return d, err
		}
		d.Loops[i] = program.LoopParams{
			Mode: program.LoopMode(mode), Collection: coll, KeyReg: key,
			ValueReg: val, ResultReg: res, BodyStart: bodyStart, LoopEnd: loopEnd,
		}
	}

	n, err = readU32(r)
	if err != nil {
		return d, err
	}
	d.Comprehensions = make([]program.ComprehensionParams, n)
	for i := range d.Comprehensions {
		mode, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		coll, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		key, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		val, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		res, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		bodyStart, err := readU32(r)
		if err != nil {
			return d, err
		}
		end, err := readU32(r)
		if err != nil {
			return d, err
		}
		d.Comprehensions[i] = program.ComprehensionParams{
			Mode: program.ComprehensionMode(mode), Collection: coll, KeyReg: key,
			ValueReg: val, ResultReg: res, BodyStart: bodyStart, End: end,
		}
	}

	n, err = readU32(r)
	if err != nil {
		return d, err
	}
	d.ChainedIndexes = make([]program.ChainedIndexParams, n)
	for i := range d.ChainedIndexes {
		root, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		comps, err := decodePathComponents(r)
		if err != nil {
			return d, err
		}
		d.ChainedIndexes[i] = program.ChainedIndexParams{Root: root, Components: comps}
	}

	n, err = readU32(r)
	if err != nil {
		return d, err
	}
	d.VDDLookups = make([]program.VDDLookupParams, n)
	for i := range d.VDDLookups {
		comps, err := decodePathComponents(r)
		if err != nil {
			return d, err
		}
		d.VDDLookups[i] = program.VDDLookupParams{Components: comps}
	}

	n, err = readU32(r)
	if err != nil {
		return d, err
	}
	d.ContainerCreates = make([]program.ContainerCreateParams, n)
	for i := range d.ContainerCreates {
		hint, err := readU32(r)
		if err != nil {
			return d, err
		}
		d.ContainerCreates[i] = program.ContainerCreateParams{SizeHint: int(hint)}
	}

	n, err = readU32(r)
	if err != nil {
		return d, err
	}
	d.Calls = make([]program.CallParams, n)
	for i := range d.Calls {
		funcIdx, err := readU16(r)
		if err != nil {
			return d, err
		}
		argc, err := r.ReadByte()
		if err != nil {
			return d, err
		}
		args := make([]byte, argc)
		if _, err := readFull(r, args); err != nil {
			return d, err
		}
		d.Calls[i] = program.CallParams{FuncIndex: funcIdx, ArgRegs: args}
	}

	return d, nil
}

func encodePathComponents(buf *bytes.Buffer, comps []program.PathComponent) {
	buf.WriteByte(byte(len(comps)))
	for _, c := range comps {
		buf.WriteByte(byte(c.Kind))
		writeU16(buf, c.Lit)
		buf.WriteByte(c.Reg)
	}
}

func decodePathComponents(r *bytes.Reader) ([]program.PathComponent, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	out := make([]program.PathComponent, n)
	for i := range out {
		kind, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		lit, err := readU16(r)
		if err != nil {
			return nil, err
		}
		reg, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = program.PathComponent{Kind: program.PathComponentKind(kind), Lit: lit, Reg: reg}
	}
	return out, nil
}

func encodeRuleInfo(buf *bytes.Buffer, ri program.RuleInfo) {
	writeBytes(buf, []byte(ri.Name))
	buf.WriteByte(byte(ri.Type))

	writeU32(buf, uint32(len(ri.Definitions)))
	for _, def := range ri.Definitions {
		writeU32(buf, uint32(len(def)))
		for _, pc := range def {
			writeU32(buf, pc)
		}
	}

	writeU32(buf, uint32(len(ri.DestructuringBlocks)))
	for _, db := range ri.DestructuringBlocks {
		if db == nil {
			buf.WriteByte(0)
		} else {
			buf.WriteByte(1)
			writeU32(buf, *db)
		}
	}

	if ri.Function == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU32(buf, uint32(ri.Function.Arity))
	}

	if ri.DefaultLiteralIndex == nil {
		buf.WriteByte(0)
	} else {
		buf.WriteByte(1)
		writeU16(buf, *ri.DefaultLiteralIndex)
	}

	buf.WriteByte(ri.ResultReg)
	buf.WriteByte(ri.NumRegisters)
}

func decodeRuleInfo(r *bytes.Reader) (program.RuleInfo, error) {
	var ri program.RuleInfo

	name, err := readBytes(r)
	if err != nil {
		return ri, err
	}
	ri.Name = string(name)

	typ, err := r.ReadByte()
	if err != nil {
		return ri, err
	}
	ri.Type = program.RuleType(typ)

	defCount, err := readU32(r)
	if err != nil {
		return ri, err
	}
	ri.Definitions = make([][]uint32, defCount)
	for i := range ri.Definitions {
		bodyCount, err := readU32(r)
		if err != nil {
			return ri, err
		}
		bodies := make([]uint32, bodyCount)
		for j := range bodies {
			bodies[j], err = readU32(r)
			if err != nil {
				return ri, err
			}
		}
		ri.Definitions[i] = bodies
	}

	dbCount, err := readU32(r)
	if err != nil {
		return ri, err
	}
	ri.DestructuringBlocks = make([]*uint32, dbCount)
	for i := range ri.DestructuringBlocks {
		present, err := r.ReadByte()
		if err != nil {
			return ri, err
		}
		if present != 0 {
			idx, err := readU32(r)
			if err != nil {
				return ri, err
			}
			ri.DestructuringBlocks[i] = &idx
		}
	}

	hasFn, err := r.ReadByte()
	if err != nil {
		return ri, err
	}
	if hasFn != 0 {
		arity, err := readU32(r)
		if err != nil {
			return ri, err
		}
		ri.Function = &program.FunctionInfo{Arity: int(arity)}
	}

	hasDefault, err := r.ReadByte()
	if err != nil {
		return ri, err
	}
	if hasDefault != 0 {
		lit, err := readU16(r)
		if err != nil {
			return ri, err
		}
		ri.DefaultLiteralIndex = &lit
	}

	resultReg, err := r.ReadByte()
	if err != nil {
		return ri, err
	}
	ri.ResultReg = resultReg

	numRegs, err := r.ReadByte()
	if err != nil {
		return ri, err
	}
	ri.NumRegisters = numRegs

	return ri, nil
}

func writeU16(buf *bytes.Buffer, v uint16) {
	buf.WriteByte(byte(v >> 8))
	buf.WriteByte(byte(v))
}

func readU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func writeBool(buf *bytes.Buffer, b bool) {
	if b {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}
