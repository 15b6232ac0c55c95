// Package engine is the top-level embedder-facing facade (§6):
// Engine accumulates policy modules and base data and compiles them
// into a CompiledPolicy; RegoVM (vm.go) wraps rvm.VM and
// dispatch.Dispatcher behind the single surface an embedder drives.
//
// There is no Rego-text parser in this module (parsing source into
// ast.Module trees is an external-collaborator concern, same as the
// teacher's own separation between parser/ and vm/ for ARM assembly).
// AddPolicy therefore takes an already-parsed *ast.Module rather than
// source text.
package engine

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/regovm/engine/artifact"
	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/compiler"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// Engine collects policy modules and base data across one or more
// AddPolicy/AddData calls, then compiles them into a CompiledPolicy.
type Engine struct {
	modules      []*ast.Module
	data         value.Value
	gatherPrints bool
}

// New returns an Engine with no policies and an empty base data
// document.
func New() *Engine {
	return &Engine{data: value.EmptyObject()}
}

// AddPolicy registers one module's rules to be compiled as part of
// the next Compile* call. id is carried only for the caller's own
// bookkeeping (e.g. reporting which file a compile error came from);
// it does not affect compiled output.
func (e *Engine) AddPolicy(id string, module *ast.Module) {
	_ = id
	e.modules = append(e.modules, module)
}

// AddData deep-merges v into the base data document evaluated rules
// see as `data`. Later calls win on scalar/array conflicts; object
// keys present in both sides are merged recursively.
func (e *Engine) AddData(v value.Value) {
	e.data = mergeData(e.data, v)
}

// SetGatherPrints records whether compiled output should retain
// trace/print instructions (mirrors the teacher's debug-vs-release
// build distinction). The flag is stored on the Engine only: compile
// does not pass it to the compiler, so it has no effect on compiled
// output.
func (e *Engine) SetGatherPrints(b bool) {
	e.gatherPrints = b
}

func mergeData(base, overlay value.Value) value.Value {
	if overlay.Kind() != value.KindObject || base.Kind() != value.KindObject {
		return overlay
	}
	out := base
	for _, k := range overlay.ObjectKeys() {
		ov := overlay.ObjectGet(k)
		bv := base.ObjectGet(k)
		if bv.Kind() == value.KindObject && ov.Kind() == value.KindObject {
			out = out.ObjectSet(k, mergeData(bv, ov))
		} else {
			out = out.ObjectSet(k, ov)
		}
	}
	return out
}

// CompiledPolicy is a compiled program plus the stable identifier an
// embedder uses to correlate it with a later Resume/inspect call.
type CompiledPolicy struct {
	ID      string
	Program *program.Program
}

// compile runs the register-based compiler over every accumulated
// module and wraps the result with a fresh ID.
func (e *Engine) compile() (*CompiledPolicy, error) {
	prog, err := compiler.Compile(e.modules)
	if err != nil {
		return nil, err
	}
	return &CompiledPolicy{ID: uuid.NewString(), Program: prog}, nil
}

// CompileWithEntrypoint compiles the accumulated modules and sets the
// program's main entry point to path, so a later RegoVM.Execute (the
// no-argument form) evaluates that rule without the caller having to
// name it again.
func (e *Engine) CompileWithEntrypoint(path string) (*CompiledPolicy, error) {
	cp, err := e.compile()
	if err != nil {
		return nil, err
	}
	idx, ok := cp.Program.EntryPointIndex(path)
	if !ok {
		return nil, fmt.Errorf("engine: no entry point %q in compiled policy", path)
	}
	cp.Program.MainEntryPoint = idx
	return cp, nil
}

// CompileForTarget compiles the accumulated modules without pinning a
// main entry point; every rule path the bundle defines stays
// independently queryable through the program's entry_points table.
// The teacher's resource-type inference pass (ARM instruction operand
// typing, see encoder.EncodeInstruction's operand validation) has no
// analogue here: there is no host "target" type to infer, so this is
// a plain compile with no extra analysis stage.
func (e *Engine) CompileForTarget() (*CompiledPolicy, error) {
	return e.compile()
}

// CompilePolicyWithEntrypoint is the one-shot convenience form of
// New().AddData(data)... .CompileWithEntrypoint(entryPoint).
func CompilePolicyWithEntrypoint(data value.Value, modules []*ast.Module, entryPoint string) (*CompiledPolicy, error) {
	e := New()
	e.AddData(data)
	for i, m := range modules {
		e.AddPolicy(fmt.Sprintf("module_%d", i), m)
	}
	return e.CompileWithEntrypoint(entryPoint)
}

// CompilePolicyForTarget is the one-shot convenience form of
// New().AddData(data)... .CompileForTarget().
func CompilePolicyForTarget(data value.Value, modules []*ast.Module) (*CompiledPolicy, error) {
	e := New()
	e.AddData(data)
	for i, m := range modules {
		e.AddPolicy(fmt.Sprintf("module_%d", i), m)
	}
	return e.CompileForTarget()
}

// Serialize writes the compiled program in the binary artifact format
// (§4.5); it does not persist CompiledPolicy.ID.
func (cp *CompiledPolicy) Serialize() ([]byte, error) {
	return artifact.Serialize(cp.Program)
}

// DeserializationStatus distinguishes a fully-decoded program from
// one whose extensible section could not be read.
type DeserializationStatus int

const (
	// Complete: Program is ready to load into a RegoVM.
	Complete DeserializationStatus = iota
	// Partial: the forward-compatible header decoded, but the
	// extensible section did not; Program is nil and the bundle must
	// be recompiled from source before it can run. EntryPoints and
	// Sources are still available from the returned Artifact.
	Partial
)

// DeserializeCompiledPolicy loads a previously-serialized artifact. On
// Partial, the caller gets back the decoded header (entry points,
// sources) via the returned *artifact.Artifact even though no
// runnable CompiledPolicy is produced.
func DeserializeCompiledPolicy(data []byte) (*CompiledPolicy, *artifact.Artifact, DeserializationStatus, error) {
	art, err := artifact.Deserialize(data)
	if err != nil {
		return nil, nil, Complete, err
	}
	if art.NeedsRecompilation {
		return nil, art, Partial, nil
	}
	return &CompiledPolicy{ID: uuid.NewString(), Program: art.Program}, art, Complete, nil
}
