package artifact

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// jsonDoc mirrors the fields the binary format carries, without the
// artifact/extensible split, except the instruction spans
// (Program.InstructionSpans), which it does not include, so they do
// not survive a JSON round trip. It exists purely for diagnostics (§4.5:
// "JSON serialization is provided for diagnostics... supports the
// same fields without the split").
type jsonDoc struct {
	Version uint32     `json:"version"`
	RegoV0  bool       `json:"rego_v0"`
	Program jsonProg   `json:"program"`
}

type jsonProg struct {
	Instructions               []jsonInstr          `json:"instructions"`
	Literals                   []jsonValue          `json:"literals"`
	RuleInfos                  []jsonRuleInfo       `json:"rule_infos"`
	BuiltinInfoTable           []program.BuiltinInfo `json:"builtin_info_table"`
	EntryPoints                []program.EntryPoint `json:"entry_points"`
	Sources                    []program.Source     `json:"sources"`
	RuleTree                   jsonValue            `json:"rule_tree"`
	MainEntryPoint             uint32               `json:"main_entry_point"`
	MaxRuleWindowSize          int                  `json:"max_rule_window_size"`
	DispatchWindowSize         int                  `json:"dispatch_window_size"`
	CompilerVersion            string               `json:"compiler_version"`
	CompiledAt                 time.Time            `json:"compiled_at"`
	NeedsRuntimeRecursionCheck bool                 `json:"needs_runtime_recursion_check"`

	// InstructionData carries the loop/comprehension/chained-index/
	// VDD-lookup/container-create/call parameter tables, reusing the
	// same binary encoding as the extensible section (base64-wrapped)
	// rather than a second hand-written JSON shape for six distinct
	// param-block kinds.
	InstructionData string `json:"instruction_data"`
}

type jsonInstr struct {
	Op        string `json:"op"`
	Dest      uint8  `json:"dest,omitempty"`
	A         uint8  `json:"a,omitempty"`
	B         uint8  `json:"b,omitempty"`
	Lit       uint16 `json:"lit,omitempty"`
	RuleIndex uint16 `json:"rule_index,omitempty"`
	Params    uint16 `json:"params,omitempty"`
	Jump      uint32 `json:"jump,omitempty"`
}

type jsonRuleInfo struct {
	Name                string     `json:"name"`
	Type                string     `json:"type"`
	Definitions         [][]uint32 `json:"definitions"`
	DestructuringBlocks []*uint32  `json:"destructuring_blocks"`
	FunctionArity       *int       `json:"function_arity,omitempty"`
	DefaultLiteralIndex *uint16    `json:"default_literal_index,omitempty"`
	ResultReg           uint8      `json:"result_reg"`
	NumRegisters        uint8      `json:"num_registers"`
}

// jsonValue is value.Value's JSON mirror: a tagged {"kind": ..., ...}
// object, since value.Value has no exported fields for json to walk
// directly.
type jsonValue struct {
	Kind    string      `json:"kind"`
	Bool    bool        `json:"bool,omitempty"`
	Int     *int64      `json:"int,omitempty"`
	Uint    *uint64     `json:"uint,omitempty"`
	Float   *float64    `json:"float,omitempty"`
	Decimal string      `json:"decimal,omitempty"`
	Str     string      `json:"str,omitempty"`
	Array   []jsonValue `json:"array,omitempty"`
	Set     []jsonValue `json:"set,omitempty"`
	Object  []jsonKV    `json:"object,omitempty"`
}

type jsonKV struct {
	Key   jsonValue `json:"key"`
	Value jsonValue `json:"value"`
}

func toJSONValue(v value.Value) jsonValue {
	switch v.Kind() {
	case value.KindNull:
		return jsonValue{Kind: "null"}
	case value.KindUndefined:
		return jsonValue{Kind: "undefined"}
	case value.KindBool:
		return jsonValue{Kind: "bool", Bool: v.Bool()}
	case value.KindNumber:
		switch {
		case v.IsNumberString():
			return jsonValue{Kind: "number_decimal", Decimal: v.DecimalString()}
		case v.IsUint64():
			u := v.Uint64()
			return jsonValue{Kind: "number_u64", Uint: &u}
		case v.IsInt():
			i := v.Int64()
			return jsonValue{Kind: "number_i64", Int: &i}
		default:
			f := v.Float64()
			return jsonValue{Kind: "number_f64", Float: &f}
		}
	case value.KindString:
		return jsonValue{Kind: "string", Str: v.Str()}
	case value.KindArray:
		elems := v.Array()
		out := make([]jsonValue, len(elems))
		for i, e := range elems {
			out[i] = toJSONValue(e)
		}
		return jsonValue{Kind: "array", Array: out}
	case value.KindSet:
		elems := v.SetElements()
		out := make([]jsonValue, len(elems))
		for i, e := range elems {
			out[i] = toJSONValue(e)
		}
		return jsonValue{Kind: "set", Set: out}
	case value.KindObject:
		entries := v.ObjectEntries()
		out := make([]jsonKV, len(entries))
		for i, kv := range entries {
			out[i] = jsonKV{Key: toJSONValue(kv[0]), Value: toJSONValue(kv[1])}
		}
		return jsonValue{Kind: "object", Object: out}
	default:
		return jsonValue{Kind: "undefined"}
	}
}

func fromJSONValue(jv jsonValue) (value.Value, error) {
	switch jv.Kind {
	case "null":
		return value.Null, nil
	case "undefined", "":
		return value.Undefined, nil
	case "bool":
		return value.Bool(jv.Bool), nil
	case "number_i64":
		if jv.Int == nil {
			return value.Value{}, fmt.Errorf("artifact: number_i64 missing int payload")
		}
		return value.Int(*jv.Int), nil
	case "number_f64":
		if jv.Float == nil {
			return value.Value{}, fmt.Errorf("artifact: number_f64 missing float payload")
		}
		return value.Float(*jv.Float), nil
	case "number_u64":
		if jv.Uint == nil {
			return value.Value{}, fmt.Errorf("artifact: number_u64 missing uint payload")
		}
		return value.Uint64(*jv.Uint), nil
	case "number_decimal":
		return value.NumberString(jv.Decimal), nil
	case "string":
		return value.String(jv.Str), nil
	case "array":
		elems := make([]value.Value, len(jv.Array))
		for i, e := range jv.Array {
			v, err := fromJSONValue(e)
			if err != nil {
				return value.Value{}, err
			}
			elems[i] = v
		}
		return value.Array(elems...), nil
	case "set":
		out := value.EmptySet()
		for _, e := range jv.Set {
			v, err := fromJSONValue(e)
			if err != nil {
				return value.Value{}, err
			}
			out = out.SetAdd(v)
		}
		return out, nil
	case "object":
		out := value.EmptyObject()
		for _, kv := range jv.Object {
			k, err := fromJSONValue(kv.Key)
			if err != nil {
				return value.Value{}, err
			}
			v, err := fromJSONValue(kv.Value)
			if err != nil {
				return value.Value{}, err
			}
			out = out.ObjectSet(k, v)
		}
		return out, nil
	default:
		return value.Value{}, fmt.Errorf("artifact: unknown json value kind %q", jv.Kind)
	}
}

// MarshalJSON renders p for diagnostics (§4.5). It is not the
// round-trip persistence format — Serialize/Deserialize is — but
// UnmarshalJSON can reconstruct an equivalent Program from it.
func MarshalJSON(p *program.Program) ([]byte, error) {
	var dataBuf bytes.Buffer
	if err := encodeInstructionData(&dataBuf, &p.Data); err != nil {
		return nil, err
	}

	doc := jsonDoc{
		Version: CurrentVersion,
		RegoV0:  p.RegoV0,
		Program: jsonProg{
			Literals:                   make([]jsonValue, len(p.Literals)),
			RuleInfos:                  make([]jsonRuleInfo, len(p.RuleInfos)),
			BuiltinInfoTable:           p.BuiltinInfoTable,
			EntryPoints:                p.EntryPoints,
			Sources:                    p.Sources,
			RuleTree:                   toJSONValue(p.RuleTree.Root),
			MainEntryPoint:             p.MainEntryPoint,
			MaxRuleWindowSize:          p.MaxRuleWindowSize,
			DispatchWindowSize:         p.DispatchWindowSize,
			CompilerVersion:            p.Metadata.CompilerVersion,
			CompiledAt:                 p.Metadata.CompiledAt,
			NeedsRuntimeRecursionCheck: p.NeedsRuntimeRecursionCheck,
			InstructionData:            base64.StdEncoding.EncodeToString(dataBuf.Bytes()),
		},
	}
	doc.Program.Instructions = make([]jsonInstr, len(p.Instructions))
	for i, instr := range p.Instructions {
		doc.Program.Instructions[i] = jsonInstr{
			Op: instr.Op.String(), Dest: instr.Dest, A: instr.A, B: instr.B,
			Lit: instr.Lit, RuleIndex: instr.RuleIndex, Params: instr.Params, Jump: instr.Jump,
		}
	}
	for i, v := range p.Literals {
		doc.Program.Literals[i] = toJSONValue(v)
	}
	for i, ri := range p.RuleInfos {
		jri := jsonRuleInfo{
			Name: ri.Name, Type: ri.Type.String(),
			Definitions: ri.Definitions, DestructuringBlocks: ri.DestructuringBlocks,
			DefaultLiteralIndex: ri.DefaultLiteralIndex,
			ResultReg:           ri.ResultReg, NumRegisters: ri.NumRegisters,
		}
		if ri.Function != nil {
			arity := ri.Function.Arity
			jri.FunctionArity = &arity
		}
		doc.Program.RuleInfos[i] = jri
	}

	return json.MarshalIndent(doc, "", "  ")
}

// opByName is built by probing program.Op's String() method rather
// than duplicating the opcode name table here, so it can never drift
// from program.instr.go's own table.
var opByName = func() map[string]program.Op {
	m := make(map[string]program.Op, 64)
	for i := 0; i < 64; i++ {
		op := program.Op(i)
		name := op.String()
		if name == "OpUnknown" {
			continue
		}
		m[name] = op
	}
	return m
}()

func ruleTypeByName(name string) (program.RuleType, error) {
	switch name {
	case "complete":
		return program.RuleComplete, nil
	case "partial set":
		return program.RulePartialSet, nil
	case "partial object":
		return program.RulePartialObject, nil
	default:
		return 0, fmt.Errorf("artifact: unknown rule type %q", name)
	}
}

// UnmarshalJSON reconstructs a Program from MarshalJSON's diagnostic
// rendering. Resolved builtins are never part of either
// representation (§3, §9) and are re-populated by the caller at load
// time, same as after binary Deserialize.
func UnmarshalJSON(data []byte) (*program.Program, error) {
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("artifact: decoding json: %w", err)
	}

	p := &program.Program{
		Instructions:               make([]program.Instr, len(doc.Program.Instructions)),
		Literals:                   make([]value.Value, len(doc.Program.Literals)),
		RuleInfos:                  make([]program.RuleInfo, len(doc.Program.RuleInfos)),
		BuiltinInfoTable:           doc.Program.BuiltinInfoTable,
		EntryPoints:                doc.Program.EntryPoints,
		Sources:                    doc.Program.Sources,
		MainEntryPoint:             doc.Program.MainEntryPoint,
		MaxRuleWindowSize:          doc.Program.MaxRuleWindowSize,
		DispatchWindowSize:         doc.Program.DispatchWindowSize,
		NeedsRuntimeRecursionCheck: doc.Program.NeedsRuntimeRecursionCheck,
		RegoV0:                     doc.RegoV0,
		Metadata: program.Metadata{
			CompilerVersion: doc.Program.CompilerVersion,
			CompiledAt:      doc.Program.CompiledAt,
		},
	}

	for i, ji := range doc.Program.Instructions {
		op, ok := opByName[ji.Op]
		if !ok {
			return nil, fmt.Errorf("artifact: unknown instruction op %q", ji.Op)
		}
		p.Instructions[i] = program.Instr{
			Op: op, Dest: ji.Dest, A: ji.A, B: ji.B,
			Lit: ji.Lit, RuleIndex: ji.RuleIndex, Params: ji.Params, Jump: ji.Jump,
		}
	}

	for i, jv := range doc.Program.Literals {
		v, err := fromJSONValue(jv)
		if err != nil {
			return nil, err
		}
		p.Literals[i] = v
	}

	for i, jri := range doc.Program.RuleInfos {
		typ, err := ruleTypeByName(jri.Type)
		if err != nil {
			return nil, err
		}
		ri := program.RuleInfo{
			Name: jri.Name, Type: typ,
			Definitions: jri.Definitions, DestructuringBlocks: jri.DestructuringBlocks,
			DefaultLiteralIndex: jri.DefaultLiteralIndex,
			ResultReg:           jri.ResultReg, NumRegisters: jri.NumRegisters,
		}
		if jri.FunctionArity != nil {
			ri.Function = &program.FunctionInfo{Arity: *jri.FunctionArity}
		}
		p.RuleInfos[i] = ri
	}

	treeRoot, err := fromJSONValue(doc.Program.RuleTree)
	if err != nil {
		return nil, err
	}
	p.RuleTree = program.RuleTree{Root: treeRoot}

	rawData, err := base64.StdEncoding.DecodeString(doc.Program.InstructionData)
	if err != nil {
		return nil, fmt.Errorf("artifact: decoding instruction_data: %w", err)
	}
	instrData, err := decodeInstructionData(bytes.NewReader(rawData))
	if err != nil {
		return nil, fmt.Errorf("artifact: decoding instruction_data: %w", err)
	}
	p.Data = instrData

	return p, nil
}
