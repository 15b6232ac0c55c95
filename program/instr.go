// Package program defines the compiled-artifact container: the fixed
// instruction set, the parameter-block side tables referenced by
// operand-heavy instructions, rule metadata, and the rule-tree
// overlay. It has no notion of *how* a program is produced (see
// package compiler) or *executed* (see package rvm) — it is the
// shared, immutable-after-compilation data shape both sides agree on.
package program

// Op is the fixed opcode catalog (§4.3). Growth is add-only; the
// catalog itself is never made pluggable (Non-goal, §1).
type Op uint8

const (
	// Load/move family.
	OpLoad Op = iota
	OpLoadTrue
	OpLoadFalse
	OpLoadNull
	OpLoadData
	OpLoadInput
	OpMove

	// Arithmetic family.
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	// Comparison family.
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	// Boolean family.
	OpAnd
	OpOr
	OpNot

	// Assertion family.
	OpAssertCondition
	OpAssertNotUndefined

	// Call family.
	OpBuiltinCall
	OpFunctionCall
	OpCallRule
	OpHostAwait
	OpReturn

	// Rule framing family.
	OpRuleInit
	OpRuleReturn
	OpDestructuringSuccess

	// Container family.
	OpObjectSet
	OpArrayPush
	OpSetAdd
	OpObjectCreate
	OpArrayCreate
	OpSetCreate
	OpArrayNew
	OpSetNew
	OpIndex
	OpIndexLiteral
	OpChainedIndex
	OpCount
	OpContains

	// Control family.
	OpLoopStart
	OpLoopNext
	OpComprehensionBegin
	OpComprehensionYield
	OpComprehensionEnd
	OpHalt

	// Virtual data family.
	OpVirtualDataDocumentLookup

	opCount
)

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "OpUnknown"
}

var opNames = [...]string{
	OpLoad:                      "Load",
	OpLoadTrue:                  "LoadTrue",
	OpLoadFalse:                 "LoadFalse",
	OpLoadNull:                  "LoadNull",
	OpLoadData:                  "LoadData",
	OpLoadInput:                 "LoadInput",
	OpMove:                      "Move",
	OpAdd:                       "Add",
	OpSub:                       "Sub",
	OpMul:                       "Mul",
	OpDiv:                       "Div",
	OpMod:                       "Mod",
	OpEq:                        "Eq",
	OpNe:                        "Ne",
	OpLt:                        "Lt",
	OpLe:                        "Le",
	OpGt:                        "Gt",
	OpGe:                        "Ge",
	OpAnd:                       "And",
	OpOr:                        "Or",
	OpNot:                       "Not",
	OpAssertCondition:           "AssertCondition",
	OpAssertNotUndefined:        "AssertNotUndefined",
	OpBuiltinCall:               "BuiltinCall",
	OpFunctionCall:              "FunctionCall",
	OpCallRule:                  "CallRule",
	OpHostAwait:                 "HostAwait",
	OpReturn:                    "Return",
	OpRuleInit:                  "RuleInit",
	OpRuleReturn:                "RuleReturn",
	OpDestructuringSuccess:      "DestructuringSuccess",
	OpObjectSet:                 "ObjectSet",
	OpArrayPush:                 "ArrayPush",
	OpSetAdd:                    "SetAdd",
	OpObjectCreate:              "ObjectCreate",
	OpArrayCreate:               "ArrayCreate",
	OpSetCreate:                 "SetCreate",
	OpArrayNew:                  "ArrayNew",
	OpSetNew:                    "SetNew",
	OpIndex:                     "Index",
	OpIndexLiteral:              "IndexLiteral",
	OpChainedIndex:              "ChainedIndex",
	OpCount:                     "Count",
	OpContains:                  "Contains",
	OpLoopStart:                 "LoopStart",
	OpLoopNext:                  "LoopNext",
	OpComprehensionBegin:        "ComprehensionBegin",
	OpComprehensionYield:        "ComprehensionYield",
	OpComprehensionEnd:          "ComprehensionEnd",
	OpHalt:                      "Halt",
	OpVirtualDataDocumentLookup: "VirtualDataDocumentLookup",
}

// Instr is the fixed-size instruction word. Not every field is
// meaningful for every Op; see the family comment above each Op for
// which fields it uses. Operands that don't fit this inline budget
// (loops, comprehensions, chained index, container construction,
// calls) carry a Params index into the Program's parallel parameter
// tables instead.
type Instr struct {
	Op Op

	Dest uint8 // destination register
	A    uint8 // left/source/condition/collection register
	B    uint8 // right/value register

	Lit       uint16 // literal pool index (OpLoad, OpIndexLiteral)
	RuleIndex uint16 // program.RuleInfos index (OpCallRule)
	Params    uint16 // index into the relevant parameter table

	Jump uint32 // jump target instruction index (OpLoopNext, OpComprehensionEnd-adjacent control)
}
