package compiler

import (
	"fmt"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// bodyCompiler lowers one rule definition's bodies into the shared
// instruction stream. Registers are never reused across statement
// boundaries within a single rule (§4.1): nextReg only grows, and the
// high-water mark becomes RuleInfo.NumRegisters.
type bodyCompiler struct {
	c    *Compiler
	rule *program.RuleInfo

	nextReg uint8
	scopes  []map[string]uint8 // innermost scope last
}

func newBodyCompiler(c *Compiler, rule *program.RuleInfo) *bodyCompiler {
	return &bodyCompiler{c: c, rule: rule, scopes: []map[string]uint8{{}}}
}

func (bc *bodyCompiler) pushScope() { bc.scopes = append(bc.scopes, map[string]uint8{}) }

func (bc *bodyCompiler) popScope() { bc.scopes = bc.scopes[:len(bc.scopes)-1] }

func (bc *bodyCompiler) newReg() uint8 {
	r := bc.nextReg
	bc.nextReg++
	if bc.nextReg > bc.rule.NumRegisters {
		bc.rule.NumRegisters = bc.nextReg
	}
	return r
}

// lookup searches the scope stack innermost-first.
func (bc *bodyCompiler) lookup(name string) (uint8, bool) {
	for i := len(bc.scopes) - 1; i >= 0; i-- {
		if r, ok := bc.scopes[i][name]; ok {
			return r, true
		}
	}
	return 0, false
}

// bindFresh binds name to a brand new register in the innermost scope.
// It errors if name is already declared in that same scope (the
// rebinding rule); shadowing an outer scope's binding is allowed, as
// is a repeated pattern variable (callers needing that check
// lookup/bindFresh themselves rather than always calling this).
func (bc *bodyCompiler) bindFresh(name string) (uint8, error) {
	top := bc.scopes[len(bc.scopes)-1]
	if _, ok := top[name]; ok {
		return 0, fmt.Errorf("variable %q already declared in this scope", name)
	}
	if name == "_" {
		return bc.newReg(), nil
	}
	r := bc.newReg()
	top[name] = r
	return r, nil
}

func (bc *bodyCompiler) emit(ins program.Instr) uint32 {
	idx := uint32(len(bc.c.prog.Instructions))
	bc.c.prog.Instructions = append(bc.c.prog.Instructions, ins)
	return idx
}

func (bc *bodyCompiler) patchJump(idx uint32, target uint32) {
	bc.c.prog.Instructions[idx].Jump = target
}

// compileRule emits the destructuring block (if any) and all bodies
// for every definition of one rule, then records entry points per §3:
// "one entry point per body plus, when present, a distinct
// destructuring block entry point".
func (c *Compiler) compileRule(idx int, defs []ruleDef) error {
	ri := &c.prog.RuleInfos[idx]
	for _, def := range defs {
		bc := newBodyCompiler(c, ri)
		var destructStart *uint32
		if len(def.rule.Args) > 0 {
			start := uint32(len(c.prog.Instructions))
			destructStart = &start
			bc.emit(program.Instr{Op: program.OpRuleInit, RuleIndex: uint16(idx)})
			for i, pat := range def.rule.Args {
				argReg := bc.newReg() // arg i lands in this register by dispatch convention
				if err := bc.lowerPattern(pat, argReg); err != nil {
					return fmt.Errorf("rule %s: arg %d: %w", ri.Name, i, err)
				}
			}
			bc.emit(program.Instr{Op: program.OpDestructuringSuccess})
		}

		if def.rule.Default != nil {
			if def.rule.Default.Kind != ast.ExprLiteral {
				return fmt.Errorf("rule %s: default must be a literal", ri.Name)
			}
			lit := c.addLiteral(def.rule.Default.Value)
			ri.DefaultLiteralIndex = &lit
		}

		var bodyStarts []uint32
		bodies := def.rule.Bodies
		if len(bodies) == 0 {
			bodies = []*ast.Body{{}}
		}
		for _, body := range bodies {
			bodyBC := newBodyCompiler(c, ri)
			bodyBC.nextReg = bc.nextReg
			bodyBC.scopes[0] = cloneScope(bc.scopes[0])
			start := uint32(len(c.prog.Instructions))
			bodyStarts = append(bodyStarts, start)
			if err := bodyBC.compileBody(body.Stmts); err != nil {
				return fmt.Errorf("rule %s: %w", ri.Name, err)
			}

			resultReg, err := bodyBC.compileResultExpr(def.rule)
			if err != nil {
				return fmt.Errorf("rule %s: %w", ri.Name, err)
			}
			if len(bodyStarts) == 1 {
				ri.ResultReg = resultReg // first body's register, kept only as a diagnostic hint; OpRuleReturn.A is authoritative
			}
			bodyBC.emit(program.Instr{Op: program.OpRuleReturn, A: resultReg})
		}

		ri.Definitions = append(ri.Definitions, bodyStarts)
		ri.DestructuringBlocks = append(ri.DestructuringBlocks, destructStart)
	}
	return nil
}

func cloneScope(s map[string]uint8) map[string]uint8 {
	cp := make(map[string]uint8, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// compileResultExpr evaluates the rule head's value/key expressions
// for a single body, matching the rule's shape: complete rules
// default to true when bodyless and ValueExpr is nil; partial sets
// evaluate KeyExpr; partial objects evaluate both.
func (bc *bodyCompiler) compileResultExpr(r *ast.Rule) (uint8, error) {
	switch r.Kind {
	case ast.RulePartialSet:
		return bc.compileExpr(r.KeyExpr)
	case ast.RulePartialObject:
		kReg, err := bc.compileExpr(r.KeyExpr)
		if err != nil {
			return 0, err
		}
		vReg, err := bc.compileExpr(*r.ValueExpr)
		if err != nil {
			return 0, err
		}
		dest := bc.newReg()
		pIdx := bc.c.prog.Data.AddContainerCreate(program.ContainerCreateParams{SizeHint: 1})
		bc.emit(program.Instr{Op: program.OpObjectCreate, Dest: dest, Params: pIdx})
		bc.emit(program.Instr{Op: program.OpObjectSet, Dest: dest, A: kReg, B: vReg})
		return dest, nil
	default:
		if r.ValueExpr == nil {
			dest := bc.newReg()
			bc.emit(program.Instr{Op: program.OpLoadTrue, Dest: dest})
			return dest, nil
		}
		return bc.compileExpr(*r.ValueExpr)
	}
}

// compileBody lowers a statement list. A top-level StmtSome consumes
// every following statement in this body as its iteration body (Rego
// semantics: everything after `some x in xs` runs once per binding of
// x), so it always terminates the loop over stmts.
func (bc *bodyCompiler) compileBody(stmts []ast.Stmt) error {
	for i, st := range stmts {
		switch st.Kind {
		case ast.StmtSome:
			return bc.compileSomeAsLoop(st.Some, stmts[i+1:])
		case ast.StmtExpr:
			reg, err := bc.compileExpr(st.Expr)
			if err != nil {
				return err
			}
			bc.emit(program.Instr{Op: program.OpAssertCondition, A: reg})
		case ast.StmtNot:
			reg, err := bc.compileExpr(st.Expr)
			if err != nil {
				return err
			}
			notReg := bc.newReg()
			bc.emit(program.Instr{Op: program.OpNot, Dest: notReg, A: reg})
			bc.emit(program.Instr{Op: program.OpAssertCondition, A: notReg})
		case ast.StmtAssign:
			if err := bc.compileAssign(st.Assign); err != nil {
				return err
			}
		case ast.StmtEvery:
			if err := bc.compileEvery(st.Every); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown statement kind %d", st.Kind)
		}
	}
	return nil
}

// compileExpr lowers e into a register holding its value.
func (bc *bodyCompiler) compileExpr(e ast.Expr) (uint8, error) {
	switch e.Kind {
	case ast.ExprVar:
		if r, ok := bc.lookup(e.Name); ok {
			return r, nil
		}
		if reg, ok, err := bc.compileBareRuleRef(e.Name); ok || err != nil {
			return reg, err
		}
		return 0, fmt.Errorf("undefined variable %q", e.Name)

	case ast.ExprIgnore:
		return 0, fmt.Errorf("_ cannot be used as a value")

	case ast.ExprLiteral:
		return bc.compileLiteral(e.Value)

	case ast.ExprRef:
		return bc.compileRef(e)

	case ast.ExprArrayLit:
		dest := bc.newReg()
		pIdx := bc.c.prog.Data.AddContainerCreate(program.ContainerCreateParams{SizeHint: len(e.Elems)})
		bc.emit(program.Instr{Op: program.OpArrayCreate, Dest: dest, Params: pIdx})
		for _, el := range e.Elems {
			elReg, err := bc.compileExpr(el)
			if err != nil {
				return 0, err
			}
			bc.emit(program.Instr{Op: program.OpArrayPush, Dest: dest, A: elReg})
		}
		return dest, nil

	case ast.ExprSetLit:
		dest := bc.newReg()
		pIdx := bc.c.prog.Data.AddContainerCreate(program.ContainerCreateParams{SizeHint: len(e.Elems)})
		bc.emit(program.Instr{Op: program.OpSetCreate, Dest: dest, Params: pIdx})
		for _, el := range e.Elems {
			elReg, err := bc.compileExpr(el)
			if err != nil {
				return 0, err
			}
			bc.emit(program.Instr{Op: program.OpSetAdd, Dest: dest, A: elReg})
		}
		return dest, nil

	case ast.ExprObjectLit:
		dest := bc.newReg()
		pIdx := bc.c.prog.Data.AddContainerCreate(program.ContainerCreateParams{SizeHint: len(e.Fields)})
		bc.emit(program.Instr{Op: program.OpObjectCreate, Dest: dest, Params: pIdx})
		for _, f := range e.Fields {
			kReg, err := bc.compileExpr(f.Key)
			if err != nil {
				return 0, err
			}
			vReg, err := bc.compileExpr(f.Value)
			if err != nil {
				return 0, err
			}
			bc.emit(program.Instr{Op: program.OpObjectSet, Dest: dest, A: kReg, B: vReg})
		}
		return dest, nil

	case ast.ExprBinary:
		lReg, err := bc.compileExpr(*e.L)
		if err != nil {
			return 0, err
		}
		rReg, err := bc.compileExpr(*e.R)
		if err != nil {
			return 0, err
		}
		dest := bc.newReg()
		bc.emit(program.Instr{Op: binOpcode(e.Op), Dest: dest, A: lReg, B: rReg})
		return dest, nil

	case ast.ExprNot:
		xReg, err := bc.compileExpr(*e.X)
		if err != nil {
			return 0, err
		}
		dest := bc.newReg()
		bc.emit(program.Instr{Op: program.OpNot, Dest: dest, A: xReg})
		return dest, nil

	case ast.ExprCall:
		return bc.compileCall(e)

	case ast.ExprComprehension:
		return bc.compileComprehension(*e.Comprehension)

	default:
		return 0, fmt.Errorf("unknown expression kind %d", e.Kind)
	}
}

func (bc *bodyCompiler) compileLiteral(v value.Value) (uint8, error) {
	dest := bc.newReg()
	switch v.Kind() {
	case value.KindBool:
		if v.Bool() {
			bc.emit(program.Instr{Op: program.OpLoadTrue, Dest: dest})
		} else {
			bc.emit(program.Instr{Op: program.OpLoadFalse, Dest: dest})
		}
	case value.KindNull:
		bc.emit(program.Instr{Op: program.OpLoadNull, Dest: dest})
	default:
		lit := bc.c.addLiteral(v)
		bc.emit(program.Instr{Op: program.OpLoad, Dest: dest, Lit: lit})
	}
	return dest, nil
}

func binOpcode(op ast.BinOp) program.Op {
	switch op {
	case ast.BinAdd:
		return program.OpAdd
	case ast.BinSub:
		return program.OpSub
	case ast.BinMul:
		return program.OpMul
	case ast.BinDiv:
		return program.OpDiv
	case ast.BinMod:
		return program.OpMod
	case ast.BinEq:
		return program.OpEq
	case ast.BinNe:
		return program.OpNe
	case ast.BinLt:
		return program.OpLt
	case ast.BinLe:
		return program.OpLe
	case ast.BinGt:
		return program.OpGt
	case ast.BinGe:
		return program.OpGe
	case ast.BinAnd:
		return program.OpAnd
	case ast.BinOr:
		return program.OpOr
	default:
		return program.OpEq
	}
}

func (bc *bodyCompiler) compileCall(e ast.Expr) (uint8, error) {
	args := make([]uint8, len(e.CallArgs))
	for i, a := range e.CallArgs {
		r, err := bc.compileExpr(a)
		if err != nil {
			return 0, err
		}
		args[i] = r
	}
	dest := bc.newReg()
	if ruleIdx, ok := bc.c.functionRules[e.CallName]; ok {
		pIdx := bc.c.prog.Data.AddCall(program.CallParams{FuncIndex: uint16(ruleIdx), ArgRegs: args})
		bc.emit(program.Instr{Op: program.OpFunctionCall, Dest: dest, Params: pIdx})
		return dest, nil
	}
	biIdx, err := bc.c.registerBuiltin(e.CallName, len(args))
	if err != nil {
		return 0, err
	}
	pIdx := bc.c.prog.Data.AddCall(program.CallParams{FuncIndex: uint16(biIdx), ArgRegs: args})
	bc.emit(program.Instr{Op: program.OpBuiltinCall, Dest: dest, Params: pIdx})
	return dest, nil
}

// compileBareRuleRef resolves a bare identifier that isn't a local
// variable against the rule tree, trying every enclosing package
// prefix this compiler currently knows of. Sibling-rule references
// without a "data...." prefix are common in real Rego.
func (bc *bodyCompiler) compileBareRuleRef(name string) (uint8, bool, error) {
	if idx, ok := bc.c.ruleIndexByPath[name]; ok {
		dest := bc.newReg()
		bc.emit(program.Instr{Op: program.OpCallRule, Dest: dest, RuleIndex: uint16(idx)})
		return dest, true, nil
	}
	for path := range bc.c.ruleIndexByPath {
		if lastSegment(path) == name {
			idx := bc.c.ruleIndexByPath[path]
			dest := bc.newReg()
			bc.emit(program.Instr{Op: program.OpCallRule, Dest: dest, RuleIndex: uint16(idx)})
			return dest, true, nil
		}
	}
	return 0, false, nil
}

func lastSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i+1:]
		}
	}
	return path
}
