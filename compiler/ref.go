package compiler

import (
	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// compileRef lowers Base[Path...]. A data.-rooted ref is resolved
// against the rule tree (§4.4); everything else lowers to a plain
// ChainedIndex off the compiled base.
func (bc *bodyCompiler) compileRef(e ast.Expr) (uint8, error) {
	if e.Base.Kind == ast.ExprVar {
		if _, bound := bc.lookup(e.Base.Name); !bound {
			switch e.Base.Name {
			case "data":
				return bc.compileDataRef(e.Path)
			case "input":
				dest := bc.newReg()
				bc.emit(program.Instr{Op: program.OpLoadInput, Dest: dest})
				return bc.compileChainedFrom(dest, e.Path)
			}
		}
	}
	baseReg, err := bc.compileExpr(*e.Base)
	if err != nil {
		return 0, err
	}
	return bc.compileChainedFrom(baseReg, e.Path)
}

// compileChainedFrom emits a single ChainedIndex walking root through
// parts, compiling any dynamic component to a register first.
func (bc *bodyCompiler) compileChainedFrom(root uint8, parts []ast.RefPart) (uint8, error) {
	if len(parts) == 0 {
		return root, nil
	}
	comps := make([]program.PathComponent, len(parts))
	for i, p := range parts {
		if p.Lit != nil {
			comps[i] = program.PathComponent{Kind: program.PathLiteral, Lit: bc.c.addLiteral(*p.Lit)}
			continue
		}
		r, err := bc.compileExpr(*p.Dyn)
		if err != nil {
			return 0, err
		}
		comps[i] = program.PathComponent{Kind: program.PathRegister, Reg: r}
	}
	dest := bc.newReg()
	pIdx := bc.c.prog.Data.AddChainedIndex(program.ChainedIndexParams{Root: root, Components: comps})
	bc.emit(program.Instr{Op: program.OpChainedIndex, Dest: dest, Params: pIdx})
	return dest, nil
}

// compileDataRef handles `data...`. It collects the maximal leading
// run of literal string path segments (rule paths are always static
// strings) and resolves them against the rule tree: an exact rule
// match becomes CallRule, a path that touches the rule tree but
// doesn't land on a leaf becomes VirtualDataDocumentLookup (the
// dispatcher merges static data with the rule group at runtime), and
// a path that never touches the rule tree at all is plain data
// indexing (§4.4).
func (bc *bodyCompiler) compileDataRef(parts []ast.RefPart) (uint8, error) {
	i := 0
	var segs []string
	for ; i < len(parts); i++ {
		if parts[i].Lit != nil && parts[i].Lit.Kind() == value.KindString {
			segs = append(segs, parts[i].Lit.Str())
			continue
		}
		break
	}
	dynTail := parts[i:]

	if len(segs) == 0 {
		dataReg := bc.newReg()
		bc.emit(program.Instr{Op: program.OpLoadData, Dest: dataReg})
		return bc.compileChainedFrom(dataReg, parts)
	}

	return bc.compileRuleOrDataPath(segs, dynTail)
}

func (bc *bodyCompiler) compileRuleOrDataPath(segs []string, dynTail []ast.RefPart) (uint8, error) {
	wr := bc.c.prog.RuleTree.Walk(segs)

	switch {
	case wr.Leaf:
		dest := bc.newReg()
		bc.emit(program.Instr{Op: program.OpCallRule, Dest: dest, RuleIndex: uint16(wr.RuleIndex)})
		leftover := append(literalRefParts(segs[wr.Consumed:]), dynTail...)
		if len(leftover) == 0 {
			return dest, nil
		}
		return bc.compileChainedFrom(dest, leftover)

	case wr.Consumed == len(segs):
		dest, err := bc.emitVDD(segs)
		if err != nil {
			return 0, err
		}
		if len(dynTail) == 0 {
			return dest, nil
		}
		return bc.compileChainedFrom(dest, dynTail)

	case wr.Consumed > 0:
		dest, err := bc.emitVDD(segs[:wr.Consumed])
		if err != nil {
			return 0, err
		}
		leftover := append(literalRefParts(segs[wr.Consumed:]), dynTail...)
		return bc.compileChainedFrom(dest, leftover)

	default:
		dataReg := bc.newReg()
		bc.emit(program.Instr{Op: program.OpLoadData, Dest: dataReg})
		leftover := append(literalRefParts(segs), dynTail...)
		return bc.compileChainedFrom(dataReg, leftover)
	}
}

func (bc *bodyCompiler) emitVDD(segs []string) (uint8, error) {
	comps := make([]program.PathComponent, len(segs))
	for i, s := range segs {
		comps[i] = program.PathComponent{Kind: program.PathLiteral, Lit: bc.c.addLiteral(value.String(s))}
	}
	dest := bc.newReg()
	pIdx := bc.c.prog.Data.AddVDDLookup(program.VDDLookupParams{Components: comps})
	bc.emit(program.Instr{Op: program.OpVirtualDataDocumentLookup, Dest: dest, Params: pIdx})
	return dest, nil
}

func literalRefParts(segs []string) []ast.RefPart {
	out := make([]ast.RefPart, len(segs))
	for i, s := range segs {
		v := value.String(s)
		out[i] = ast.RefPart{Lit: &v}
	}
	return out
}
