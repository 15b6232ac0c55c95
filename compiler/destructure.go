package compiler

import (
	"fmt"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// lowerPattern lowers a destructuring pattern against a value already
// held in srcReg (§4.1's DestructuringPlan): Var binds fresh (or, for
// a variable repeated within the same pattern or already bound in an
// outer scope, becomes an equality check against the existing
// binding); Ignore always succeeds and binds nothing; a literal
// pattern position becomes an equality check against that constant;
// Array/Object patterns recurse per-element/per-field with a length
// or key-presence assertion first.
func (bc *bodyCompiler) lowerPattern(pattern ast.Expr, srcReg uint8) error {
	return bc.lowerPatternRec(pattern, srcReg, map[string]uint8{})
}

func (bc *bodyCompiler) lowerPatternRec(pattern ast.Expr, srcReg uint8, seen map[string]uint8) error {
	switch pattern.Kind {
	case ast.ExprIgnore:
		return nil

	case ast.ExprVar:
		if r, ok := seen[pattern.Name]; ok {
			return bc.emitEqualityCheck(r, srcReg)
		}
		if r, ok := bc.lookup(pattern.Name); ok {
			seen[pattern.Name] = r
			return bc.emitEqualityCheck(r, srcReg)
		}
		r, err := bc.bindFresh(pattern.Name)
		if err != nil {
			return err
		}
		seen[pattern.Name] = r
		bc.emit(program.Instr{Op: program.OpMove, Dest: r, A: srcReg})
		return nil

	case ast.ExprLiteral:
		litReg, err := bc.compileLiteral(pattern.Value)
		if err != nil {
			return err
		}
		return bc.emitEqualityCheck(litReg, srcReg)

	case ast.ExprArrayLit:
		lenReg := bc.newReg()
		bc.emit(program.Instr{Op: program.OpCount, Dest: lenReg, A: srcReg})
		expReg, err := bc.compileLiteral(value.Int(int64(len(pattern.Elems))))
		if err != nil {
			return err
		}
		eqReg := bc.newReg()
		bc.emit(program.Instr{Op: program.OpEq, Dest: eqReg, A: lenReg, B: expReg})
		bc.emit(program.Instr{Op: program.OpAssertCondition, A: eqReg})
		for i, el := range pattern.Elems {
			idxLit := bc.c.addLiteral(value.Int(int64(i)))
			elemReg := bc.newReg()
			bc.emit(program.Instr{Op: program.OpIndexLiteral, Dest: elemReg, A: srcReg, Lit: idxLit})
			if err := bc.lowerPatternRec(el, elemReg, seen); err != nil {
				return err
			}
		}
		return nil

	case ast.ExprObjectLit:
		for _, f := range pattern.Fields {
			if f.Key.Kind != ast.ExprLiteral {
				return fmt.Errorf("object pattern keys must be literals")
			}
			keyLit := bc.c.addLiteral(f.Key.Value)
			fieldReg := bc.newReg()
			bc.emit(program.Instr{Op: program.OpIndexLiteral, Dest: fieldReg, A: srcReg, Lit: keyLit})
			bc.emit(program.Instr{Op: program.OpAssertNotUndefined, A: fieldReg})
			if err := bc.lowerPatternRec(f.Value, fieldReg, seen); err != nil {
				return err
			}
		}
		return nil

	default:
		exprReg, err := bc.compileExpr(pattern)
		if err != nil {
			return err
		}
		return bc.emitEqualityCheck(exprReg, srcReg)
	}
}

func (bc *bodyCompiler) emitEqualityCheck(a, b uint8) error {
	eqReg := bc.newReg()
	bc.emit(program.Instr{Op: program.OpEq, Dest: eqReg, A: a, B: b})
	bc.emit(program.Instr{Op: program.OpAssertCondition, A: eqReg})
	return nil
}

// compileAssign lowers one `:=`/`=` statement per the AssignmentPlan
// (§4.1): ColonEquals always destructures; `=` picks one of
// EqualsBindLeft / EqualsBindRight / EqualsBothSides / EqualityCheck /
// WildcardMatch depending on which side(s) are already-bound.
func (bc *bodyCompiler) compileAssign(a *ast.Assign) error {
	if a.Op == ast.AssignColonEquals {
		rReg, err := bc.compileExpr(a.RHS)
		if err != nil {
			return err
		}
		return bc.lowerPattern(a.LHS, rReg)
	}

	lWild := a.LHS.Kind == ast.ExprIgnore
	rWild := a.RHS.Kind == ast.ExprIgnore
	if lWild && rWild {
		return nil // WildcardMatch
	}
	if lWild {
		_, err := bc.compileExpr(a.RHS)
		return err
	}
	if rWild {
		_, err := bc.compileExpr(a.LHS)
		return err
	}

	lUnbound := bc.isUnboundVar(a.LHS)
	rUnbound := bc.isUnboundVar(a.RHS)

	switch {
	case lUnbound && rUnbound:
		reg, err := bc.bindFresh(a.RHS.Name)
		if err != nil {
			return err
		}
		top := bc.scopes[len(bc.scopes)-1]
		if _, ok := top[a.LHS.Name]; ok {
			return fmt.Errorf("variable %q already declared in this scope", a.LHS.Name)
		}
		top[a.LHS.Name] = reg
		return nil

	case lUnbound:
		rReg, err := bc.compileExpr(a.RHS)
		if err != nil {
			return err
		}
		lReg, err := bc.bindFresh(a.LHS.Name)
		if err != nil {
			return err
		}
		bc.emit(program.Instr{Op: program.OpMove, Dest: lReg, A: rReg})
		return nil

	case rUnbound:
		lReg, err := bc.compileExpr(a.LHS)
		if err != nil {
			return err
		}
		rReg, err := bc.bindFresh(a.RHS.Name)
		if err != nil {
			return err
		}
		bc.emit(program.Instr{Op: program.OpMove, Dest: rReg, A: lReg})
		return nil

	default:
		lReg, err := bc.compileExpr(a.LHS)
		if err != nil {
			return err
		}
		rReg, err := bc.compileExpr(a.RHS)
		if err != nil {
			return err
		}
		return bc.emitEqualityCheck(lReg, rReg)
	}
}

func (bc *bodyCompiler) isUnboundVar(e ast.Expr) bool {
	if e.Kind != ast.ExprVar {
		return false
	}
	_, ok := bc.lookup(e.Name)
	return !ok
}
