package program

// LoopMode distinguishes the three quantifier shapes that lower to
// LoopStart/LoopNext.
type LoopMode int

const (
	LoopAny LoopMode = iota
	LoopEvery
	LoopForEach
)

// LoopParams is the parameter block for a LoopStart instruction.
type LoopParams struct {
	Mode       LoopMode
	Collection uint8 // register holding the iterable
	KeyReg     uint8 // register to receive the current key/index (0 if unused)
	ValueReg   uint8 // register to receive the current value
	ResultReg  uint8 // register accumulating Any/Every/ForEach result
	BodyStart  uint32
	LoopEnd    uint32
}

// ComprehensionMode distinguishes array/set/object comprehension
// syntax.
type ComprehensionMode int

const (
	ComprehensionArray ComprehensionMode = iota
	ComprehensionSet
	ComprehensionObject
)

// ComprehensionParams is the parameter block for a
// ComprehensionBegin instruction.
type ComprehensionParams struct {
	Mode       ComprehensionMode
	Collection uint8 // register holding the source iterable, for array/set/object comprehension syntax over an explicit collection; 0 if the comprehension body drives its own loop(s)
	KeyReg     uint8
	ValueReg   uint8
	ResultReg  uint8
	BodyStart  uint32
	End        uint32
}

// PathComponentKind distinguishes a literal path segment (known at
// compile time) from one computed into a register at runtime.
type PathComponentKind int

const (
	PathLiteral PathComponentKind = iota
	PathRegister
)

// PathComponent is one segment of a chained-index or
// virtual-data-document lookup path.
type PathComponent struct {
	Kind PathComponentKind
	Lit  uint16 // literal pool index, when Kind==PathLiteral
	Reg  uint8  // register, when Kind==PathRegister
}

// ChainedIndexParams is the parameter block for a ChainedIndex
// instruction: index Root through a sequence of literal-or-register
// path components.
type ChainedIndexParams struct {
	Root       uint8
	Components []PathComponent
}

// VDDLookupParams is the parameter block for a
// VirtualDataDocumentLookup instruction: same path-component sequence
// shape as ChainedIndexParams, but walked against the rule tree first.
type VDDLookupParams struct {
	Components []PathComponent
}

// ContainerCreateParams is the parameter block shared by
// ObjectCreate/ArrayCreate/SetCreate. The instructions that follow a
// *Create allocate the empty container into Instr.Dest and populate
// it via ObjectSet/ArrayPush/SetAdd; the block exists so every
// *Create instruction satisfies the "params_index references an
// existing slot" invariant even though, today, it carries no payload
// beyond a size hint for pre-allocation.
type ContainerCreateParams struct {
	SizeHint int
}

// CallParams is the parameter block shared by BuiltinCall and
// FunctionCall.
type CallParams struct {
	// FuncIndex is a builtin_info_table index for BuiltinCall, or a
	// RuleInfos index (of a function rule) for FunctionCall.
	FuncIndex uint16
	ArgRegs   []uint8
}

// InstructionData holds the parallel parameter-block tables indexed
// by Instr.Params. Each table is independently addressed; an
// instruction's Op determines which table its Params field indexes
// into.
type InstructionData struct {
	Loops            []LoopParams
	Comprehensions   []ComprehensionParams
	ChainedIndexes   []ChainedIndexParams
	VDDLookups       []VDDLookupParams
	ContainerCreates []ContainerCreateParams
	Calls            []CallParams
}

func (d *InstructionData) AddLoop(p LoopParams) uint16 {
	d.Loops = append(d.Loops, p)
	return uint16(len(d.Loops) - 1)
}

func (d *InstructionData) AddComprehension(p ComprehensionParams) uint16 {
	d.Comprehensions = append(d.Comprehensions, p)
	return uint16(len(d.Comprehensions) - 1)
}

func (d *InstructionData) AddChainedIndex(p ChainedIndexParams) uint16 {
	d.ChainedIndexes = append(d.ChainedIndexes, p)
	return uint16(len(d.ChainedIndexes) - 1)
}

func (d *InstructionData) AddVDDLookup(p VDDLookupParams) uint16 {
	d.VDDLookups = append(d.VDDLookups, p)
	return uint16(len(d.VDDLookups) - 1)
}

func (d *InstructionData) AddContainerCreate(p ContainerCreateParams) uint16 {
	d.ContainerCreates = append(d.ContainerCreates, p)
	return uint16(len(d.ContainerCreates) - 1)
}

func (d *InstructionData) AddCall(p CallParams) uint16 {
	d.Calls = append(d.Calls, p)
	return uint16(len(d.Calls) - 1)
}
