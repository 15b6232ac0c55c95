package program

import (
	"fmt"
	"time"

	"github.com/regovm/engine/value"
)

// Size limits from §3.
const (
	MaxInstructions   = 65535
	MaxLiterals       = 65535
	MaxRuleInfos      = 4000
	MaxEntryPoints    = 1000
	MaxSources        = 256
	MaxBuiltinInfos   = 512
	MaxRulePathDepth  = 32
)

// Source is one compiled source file (name plus raw text, kept for
// diagnostics/spans).
type Source struct {
	Name string
	Text string
}

// Metadata carries the compiler version and compile timestamp; it is
// part of the extensible section (§4.5) and is not consulted for
// program identity.
type Metadata struct {
	CompilerVersion string
	CompiledAt      time.Time
}

// Program is the immutable compiled artifact (§3). It is shared by
// value (a *Program is handed around; nothing mutates it after
// compilation) — the mutable half of evaluation lives in rvm.VM and
// dispatch.Dispatcher.
type Program struct {
	Instructions []Instr
	Literals     []value.Value
	Data         InstructionData

	BuiltinInfoTable []BuiltinInfo
	// ResolvedBuiltins is indexed like BuiltinInfoTable and is set by
	// the embedder at load time (nothing in this module fills it in);
	// it is never persisted (§3, §9).
	ResolvedBuiltins []BuiltinFunc `json:"-"`

	RuleInfos []RuleInfo

	// InstructionSpans optionally maps instruction index to a source
	// span, for diagnostics. May be nil.
	InstructionSpans []Span

	// EntryPoints is an ordered map from path string (e.g.
	// "data.p.allow") to instruction index. Go maps don't preserve
	// order, so this is a slice of pairs plus an index for lookup.
	EntryPoints []EntryPoint

	Sources []Source

	RuleTree RuleTree

	MainEntryPoint uint32

	MaxRuleWindowSize  int
	DispatchWindowSize int

	Metadata Metadata

	NeedsRuntimeRecursionCheck bool
	NeedsRecompilation         bool
	RegoV0                     bool

	entryIndex map[string]int
}

// BuiltinFunc is the runtime-resolved shape of a builtin: a plain Go
// function over Values. Builtin implementations are an external
// collaborator (§1); the core only ever sees this pointer plus the
// declared arity in BuiltinInfoTable.
type BuiltinFunc func(args []value.Value) (value.Value, error)

// Span is a source location, used only for diagnostics.
type Span struct {
	Source     int
	Line, Col  int
	EndLine    int
	EndCol     int
}

// EntryPoint binds a dotted path to the instruction index evaluation
// begins at.
type EntryPoint struct {
	Path  string
	Index uint32
}

// EntryPointIndex returns the instruction index for path, if present.
func (p *Program) EntryPointIndex(path string) (uint32, bool) {
	if p.entryIndex == nil {
		p.buildEntryIndex()
	}
	idx, ok := p.entryIndex[path]
	return uint32(idx), ok
}

func (p *Program) buildEntryIndex() {
	p.entryIndex = make(map[string]int, len(p.EntryPoints))
	for _, ep := range p.EntryPoints {
		p.entryIndex[ep.Path] = int(ep.Index)
	}
}

// AddEntryPoint appends a new entry point and invalidates the lookup
// cache.
func (p *Program) AddEntryPoint(path string, index uint32) {
	p.EntryPoints = append(p.EntryPoints, EntryPoint{Path: path, Index: index})
	p.entryIndex = nil
}

// Validate checks the structural invariants from §3. It does not
// re-derive them from scratch on every VM step (that would be
// prohibitively expensive); it is meant to run once after
// compilation or deserialization.
func (p *Program) Validate() error {
	if len(p.Instructions) > MaxInstructions {
		return fmt.Errorf("program: %d instructions exceeds limit %d", len(p.Instructions), MaxInstructions)
	}
	if len(p.Literals) > MaxLiterals {
		return fmt.Errorf("program: %d literals exceeds limit %d", len(p.Literals), MaxLiterals)
	}
	if len(p.RuleInfos) > MaxRuleInfos {
		return fmt.Errorf("program: %d rule infos exceeds limit %d", len(p.RuleInfos), MaxRuleInfos)
	}
	if len(p.EntryPoints) > MaxEntryPoints {
		return fmt.Errorf("program: %d entry points exceeds limit %d", len(p.EntryPoints), MaxEntryPoints)
	}
	if len(p.Sources) > MaxSources {
		return fmt.Errorf("program: %d sources exceeds limit %d", len(p.Sources), MaxSources)
	}
	if len(p.BuiltinInfoTable) > MaxBuiltinInfos {
		return fmt.Errorf("program: %d builtin infos exceeds limit %d", len(p.BuiltinInfoTable), MaxBuiltinInfos)
	}

	n := uint32(len(p.Instructions))
	for i, instr := range p.Instructions {
		if err := p.validateInstr(i, instr, n); err != nil {
			return err
		}
	}
	return nil
}

func (p *Program) validateInstr(i int, instr Instr, n uint32) error {
	switch instr.Op {
	case OpLoad, OpIndexLiteral:
		if int(instr.Lit) >= len(p.Literals) {
			return fmt.Errorf("program: instruction %d literal index %d out of bounds", i, instr.Lit)
		}
	case OpCallRule:
		if int(instr.RuleIndex) >= len(p.RuleInfos) {
			return fmt.Errorf("program: instruction %d rule index %d out of bounds", i, instr.RuleIndex)
		}
	case OpLoopStart:
		if int(instr.Params) >= len(p.Data.Loops) {
			return fmt.Errorf("program: instruction %d loop params %d out of bounds", i, instr.Params)
		}
		lp := p.Data.Loops[instr.Params]
		if lp.BodyStart > n || lp.LoopEnd > n {
			return fmt.Errorf("program: instruction %d loop jump target out of bounds", i)
		}
	case OpComprehensionBegin:
		if int(instr.Params) >= len(p.Data.Comprehensions) {
			return fmt.Errorf("program: instruction %d comprehension params %d out of bounds", i, instr.Params)
		}
		cp := p.Data.Comprehensions[instr.Params]
		if cp.BodyStart > n || cp.End > n {
			return fmt.Errorf("program: instruction %d comprehension jump target out of bounds", i)
		}
	case OpChainedIndex:
		if int(instr.Params) >= len(p.Data.ChainedIndexes) {
			return fmt.Errorf("program: instruction %d chained-index params %d out of bounds", i, instr.Params)
		}
	case OpVirtualDataDocumentLookup:
		if int(instr.Params) >= len(p.Data.VDDLookups) {
			return fmt.Errorf("program: instruction %d VDD params %d out of bounds", i, instr.Params)
		}
	case OpObjectCreate, OpArrayCreate, OpSetCreate:
		if int(instr.Params) >= len(p.Data.ContainerCreates) {
			return fmt.Errorf("program: instruction %d container-create params %d out of bounds", i, instr.Params)
		}
	case OpBuiltinCall, OpFunctionCall:
		if int(instr.Params) >= len(p.Data.Calls) {
			return fmt.Errorf("program: instruction %d call params %d out of bounds", i, instr.Params)
		}
	case OpLoopNext:
		if instr.Jump > n {
			return fmt.Errorf("program: instruction %d jump target %d out of bounds", i, instr.Jump)
		}
	}
	return nil
}
