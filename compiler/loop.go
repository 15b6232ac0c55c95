package compiler

import (
	"fmt"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/program"
)

// bindPatternVar binds a loop/generator binder, which is always a
// bare variable or `_` (never a compound pattern).
func (bc *bodyCompiler) bindPatternVar(e ast.Expr) (uint8, error) {
	switch e.Kind {
	case ast.ExprIgnore:
		return bc.newReg(), nil
	case ast.ExprVar:
		return bc.bindFresh(e.Name)
	default:
		return 0, fmt.Errorf("loop binder must be a variable or _")
	}
}

// compileSomeAsLoop lowers a top-level `some <vars> in <collection>`
// statement. Rego semantics: every statement following `some` in the
// same body runs once per binding, and the body succeeds if any
// iteration satisfies all of them — so the rest of the body becomes
// the loop's iteration body (LoopAny), and `rest` is never reached by
// the caller's own statement loop.
func (bc *bodyCompiler) compileSomeAsLoop(some *ast.Some, rest []ast.Stmt) error {
	if len(some.Vars) == 0 || len(some.Vars) > 2 {
		return fmt.Errorf("some must bind one or two variables")
	}
	collReg, err := bc.compileExpr(some.Collection)
	if err != nil {
		return err
	}

	bc.pushScope()
	defer bc.popScope()

	var keyReg, valReg uint8
	if len(some.Vars) == 2 {
		if keyReg, err = bc.bindPatternVar(some.Vars[0]); err != nil {
			return err
		}
		if valReg, err = bc.bindPatternVar(some.Vars[1]); err != nil {
			return err
		}
	} else {
		if valReg, err = bc.bindPatternVar(some.Vars[0]); err != nil {
			return err
		}
	}
	resultReg := bc.newReg()

	pIdx := bc.c.prog.Data.AddLoop(program.LoopParams{
		Mode:       program.LoopAny,
		Collection: collReg,
		KeyReg:     keyReg,
		ValueReg:   valReg,
		ResultReg:  resultReg,
	})
	bc.emit(program.Instr{Op: program.OpLoopStart, Params: pIdx})
	bodyStart := uint32(len(bc.c.prog.Instructions))

	if err := bc.compileBody(rest); err != nil {
		return err
	}

	bc.emit(program.Instr{Op: program.OpLoopNext, Jump: bodyStart})
	loopEnd := uint32(len(bc.c.prog.Instructions))

	lp := &bc.c.prog.Data.Loops[pIdx]
	lp.BodyStart = bodyStart
	lp.LoopEnd = loopEnd

	bc.emit(program.Instr{Op: program.OpAssertCondition, A: resultReg})
	return nil
}

// compileEvery lowers an `every`/`any`/`for each` statement with an
// explicit brace body.
func (bc *bodyCompiler) compileEvery(e *ast.Every) error {
	collReg, err := bc.compileExpr(e.Collection)
	if err != nil {
		return err
	}

	bc.pushScope()
	defer bc.popScope()

	var keyReg, valReg uint8
	if e.Key != nil {
		if keyReg, err = bc.bindPatternVar(*e.Key); err != nil {
			return err
		}
	}
	if valReg, err = bc.bindPatternVar(e.Value); err != nil {
		return err
	}
	resultReg := bc.newReg()

	mode := program.LoopEvery
	switch e.Mode {
	case ast.QuantifierAny:
		mode = program.LoopAny
	case ast.QuantifierForEach:
		mode = program.LoopForEach
	}

	pIdx := bc.c.prog.Data.AddLoop(program.LoopParams{
		Mode:       mode,
		Collection: collReg,
		KeyReg:     keyReg,
		ValueReg:   valReg,
		ResultReg:  resultReg,
	})
	bc.emit(program.Instr{Op: program.OpLoopStart, Params: pIdx})
	bodyStart := uint32(len(bc.c.prog.Instructions))

	var bodyStmts []ast.Stmt
	if e.Body != nil {
		bodyStmts = e.Body.Stmts
	}
	if err := bc.compileBody(bodyStmts); err != nil {
		return err
	}

	bc.emit(program.Instr{Op: program.OpLoopNext, Jump: bodyStart})
	loopEnd := uint32(len(bc.c.prog.Instructions))

	lp := &bc.c.prog.Data.Loops[pIdx]
	lp.BodyStart = bodyStart
	lp.LoopEnd = loopEnd

	bc.emit(program.Instr{Op: program.OpAssertCondition, A: resultReg})
	return nil
}

// compileComprehension lowers `[Term | Body]` / `{Term | Body}` /
// `{Key: Term | Body}`. The body must open with a `some` generator,
// and any other body is rejected with an error: real Rego also allows
// comprehensions whose iteration comes purely from an enclosing
// `walk`/ref wildcard, which this compiler does not lower.
func (bc *bodyCompiler) compileComprehension(c ast.Comprehension) (uint8, error) {
	if c.Body == nil || len(c.Body.Stmts) == 0 || c.Body.Stmts[0].Kind != ast.StmtSome {
		return 0, fmt.Errorf("comprehension body must open with a `some ... in ...` generator")
	}
	gen := c.Body.Stmts[0].Some
	rest := c.Body.Stmts[1:]
	if len(gen.Vars) == 0 || len(gen.Vars) > 2 {
		return 0, fmt.Errorf("some must bind one or two variables")
	}

	collReg, err := bc.compileExpr(gen.Collection)
	if err != nil {
		return 0, err
	}

	mode := program.ComprehensionArray
	switch c.Mode {
	case ast.ComprehensionSet:
		mode = program.ComprehensionSet
	case ast.ComprehensionObject:
		mode = program.ComprehensionObject
	}

	resultReg := bc.newReg()
	pIdx := bc.c.prog.Data.AddComprehension(program.ComprehensionParams{
		Mode:       mode,
		Collection: collReg,
		ResultReg:  resultReg,
	})
	bc.emit(program.Instr{Op: program.OpComprehensionBegin, Dest: resultReg, Params: pIdx})

	bc.pushScope()

	var keyReg, valReg uint8
	if len(gen.Vars) == 2 {
		if keyReg, err = bc.bindPatternVar(gen.Vars[0]); err != nil {
			bc.popScope()
			return 0, err
		}
		if valReg, err = bc.bindPatternVar(gen.Vars[1]); err != nil {
			bc.popScope()
			return 0, err
		}
	} else {
		if valReg, err = bc.bindPatternVar(gen.Vars[0]); err != nil {
			bc.popScope()
			return 0, err
		}
	}

	cp := &bc.c.prog.Data.Comprehensions[pIdx]
	cp.KeyReg = keyReg
	cp.ValueReg = valReg
	bodyStart := uint32(len(bc.c.prog.Instructions))
	cp.BodyStart = bodyStart

	if err := bc.compileBody(rest); err != nil {
		bc.popScope()
		return 0, err
	}

	termReg, err := bc.compileExpr(c.Term)
	if err != nil {
		bc.popScope()
		return 0, err
	}
	var yieldKeyReg uint8
	if c.Mode == ast.ComprehensionObject {
		if c.Key == nil {
			bc.popScope()
			return 0, fmt.Errorf("object comprehension missing key expression")
		}
		if yieldKeyReg, err = bc.compileExpr(*c.Key); err != nil {
			bc.popScope()
			return 0, err
		}
	}
	bc.emit(program.Instr{Op: program.OpComprehensionYield, A: termReg, B: yieldKeyReg})
	bc.popScope()

	end := uint32(len(bc.c.prog.Instructions))
	cp2 := &bc.c.prog.Data.Comprehensions[pIdx]
	cp2.End = end
	bc.emit(program.Instr{Op: program.OpComprehensionEnd, Dest: resultReg})

	return resultReg, nil
}
