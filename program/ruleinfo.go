package program

// RuleType distinguishes the three rule shapes (§3).
type RuleType int

const (
	RuleComplete RuleType = iota
	RulePartialSet
	RulePartialObject
)

func (t RuleType) String() string {
	switch t {
	case RuleComplete:
		return "complete"
	case RulePartialSet:
		return "partial set"
	case RulePartialObject:
		return "partial object"
	default:
		return "unknown"
	}
}

// FunctionInfo marks a rule as a function rule: its results are
// arg-sensitive and therefore never cached.
type FunctionInfo struct {
	Arity int
}

// RuleInfo is the compile-time metadata for one rule (§3).
type RuleInfo struct {
	Name string
	Type RuleType

	// Definitions holds, per definition (a textual rule head with its
	// bodies), the ordered instruction entry points of each body.
	Definitions [][]uint32

	// DestructuringBlocks is parallel to Definitions: an optional
	// entry point that runs argument-pattern matching before the
	// corresponding definition's bodies.
	DestructuringBlocks []*uint32

	Function *FunctionInfo

	// DefaultLiteralIndex, when set, is the literal pool index loaded
	// as the rule's result when every definition fails to produce one.
	DefaultLiteralIndex *uint16

	ResultReg    uint8
	NumRegisters uint8
}

// IsFunction reports whether this rule is a function rule.
func (r *RuleInfo) IsFunction() bool { return r.Function != nil }

// BuiltinInfo is the compile-time record of a referenced builtin: its
// name and declared arity. Resolution to an actual function pointer
// happens at load time (Program.ResolvedBuiltins), never at compile
// time.
type BuiltinInfo struct {
	Name  string
	Arity int
}
