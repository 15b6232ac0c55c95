// Package compiler lowers ast.Module values to a program.Program
// (§4.1). It is a single-pass, whole-bundle compiler: every module
// handed to Compile is lowered into one shared instruction stream, one
// shared literal pool, and one shared rule tree, matching the
// whole-program-recompilation model (Non-goal: no incremental
// per-rule recompilation, §1).
package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/regovm/engine/ast"
	"github.com/regovm/engine/program"
	"github.com/regovm/engine/value"
)

// Compiler accumulates state across all modules passed to Compile.
type Compiler struct {
	prog *program.Program

	// builtinIndex maps a builtin name to its BuiltinInfoTable index.
	// Arity is fixed at first sight and checked on subsequent calls.
	builtinIndex map[string]int

	// functionRules maps a fully-qualified function rule path (e.g.
	// "p.double") to its RuleInfos index.
	functionRules map[string]int

	// ruleIndexByPath maps a fully-qualified rule path to its
	// RuleInfos index, for sibling-rule-call resolution.
	ruleIndexByPath map[string]int

	literalIndex map[string]uint16 // dedup key -> literal index

	errs []error
}

// New returns a Compiler ready to compile one bundle of modules.
func New() *Compiler {
	return &Compiler{
		prog: &program.Program{
			MaxRuleWindowSize:  256,
			DispatchWindowSize: 1024,
			RuleTree:           program.NewRuleTree(),
		},
		builtinIndex:    map[string]int{},
		functionRules:   map[string]int{},
		ruleIndexByPath: map[string]int{},
		literalIndex:    map[string]uint16{},
	}
}

// Compile lowers every rule in every module into the shared program,
// builds the rule tree, wires entry points for every rule path, and
// validates the result.
func Compile(modules []*ast.Module) (*program.Program, error) {
	c := New()
	return c.Compile(modules)
}

func (c *Compiler) Compile(modules []*ast.Module) (*program.Program, error) {
	for i := range modules {
		c.prog.Sources = append(c.prog.Sources, program.Source{Name: fmt.Sprintf("module_%d.rego", i)})
	}

	// Pass 1: group definitions by fully-qualified rule path and
	// register each rule's RuleInfo + rule-tree entry before emitting
	// any instructions, so forward/sibling rule calls resolve.
	type group struct {
		path string
		kind ast.RuleKind
		defs []ruleDef
	}
	order := []string{}
	groups := map[string]*group{}

	for _, m := range modules {
		pkgParts := splitPath(m.Package)
		for _, r := range m.Rules {
			fq := strings.Join(append(append([]string{}, pkgParts...), r.Name), ".")
			g, ok := groups[fq]
			if !ok {
				g = &group{path: fq, kind: r.Kind}
				groups[fq] = g
				order = append(order, fq)
			}
			g.defs = append(g.defs, ruleDef{pkgParts: pkgParts, rule: r})
		}
	}

	for _, fq := range order {
		g := groups[fq]
		ri := program.RuleInfo{
			Name: g.path,
			Type: ruleType(g.kind),
		}
		if g.kind == ast.RuleFunction {
			ri.Function = &program.FunctionInfo{Arity: len(g.defs[0].rule.Args)}
		}
		idx := len(c.prog.RuleInfos)
		c.prog.RuleInfos = append(c.prog.RuleInfos, ri)
		c.ruleIndexByPath[g.path] = idx
		if g.kind == ast.RuleFunction {
			c.functionRules[g.path] = idx
		}
		fullPath := splitPath(g.path)
		if err := c.prog.RuleTree.Insert(fullPath, idx); err != nil {
			c.errs = append(c.errs, err)
		}
	}

	// Pass 2: emit instructions for every definition, now that every
	// rule path is resolvable.
	for _, fq := range order {
		g := groups[fq]
		idx := c.ruleIndexByPath[fq]
		if err := c.compileRule(idx, g.defs); err != nil {
			c.errs = append(c.errs, err)
		}
	}

	// Entry points: every non-function rule path is directly queryable.
	// Each entry point is a two-instruction trampoline (CallRule,
	// RuleReturn) rather than a jump straight into the rule's first
	// body: routing through OpCallRule means a top-level entry-point
	// evaluation gets exactly the same dispatcher-owned caching and
	// multi-definition aggregation (§4.4) as a rule reached through an
	// ordinary reference. The rule's body then runs in a nested frame
	// pushed by rvm.VM.RunBodyWithRegs, which is driven by the same
	// runFrames loop as the top-level frame (so suspension,
	// breakpoints, and instruction limits all still apply).
	for _, fq := range order {
		g := groups[fq]
		if g.kind == ast.RuleFunction {
			continue
		}
		idx := c.ruleIndexByPath[fq]
		ri := &c.prog.RuleInfos[idx]
		if len(ri.Definitions) == 0 {
			continue
		}
		trampolineStart := uint32(len(c.prog.Instructions))
		c.prog.Instructions = append(c.prog.Instructions,
			program.Instr{Op: program.OpCallRule, Dest: 0, RuleIndex: uint16(idx)},
			program.Instr{Op: program.OpRuleReturn, A: 0},
		)
		c.prog.AddEntryPoint("data."+fq, trampolineStart)
	}

	if len(c.errs) > 0 {
		return nil, c.errs[0]
	}
	if err := c.prog.Validate(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

type ruleDef struct {
	pkgParts []string
	rule     *ast.Rule
}

func ruleType(k ast.RuleKind) program.RuleType {
	switch k {
	case ast.RulePartialSet:
		return program.RulePartialSet
	case ast.RulePartialObject:
		return program.RulePartialObject
	default:
		return program.RuleComplete
	}
}

func splitPath(pkg string) []string {
	if pkg == "" {
		return nil
	}
	return strings.Split(pkg, ".")
}

// addLiteral deduplicates and interns v into the shared literal pool,
// returning its 16-bit index.
func (c *Compiler) addLiteral(v value.Value) uint16 {
	key := v.String() + "|" + v.Kind().String()
	if idx, ok := c.literalIndex[key]; ok {
		return idx
	}
	idx := uint16(len(c.prog.Literals))
	c.prog.Literals = append(c.prog.Literals, v)
	c.literalIndex[key] = idx
	return idx
}

// registerBuiltin interns a builtin name+arity, checking arity
// consistency across call sites.
func (c *Compiler) registerBuiltin(name string, arity int) (int, error) {
	if idx, ok := c.builtinIndex[name]; ok {
		if c.prog.BuiltinInfoTable[idx].Arity != arity {
			return 0, fmt.Errorf("builtin %q called with arity %d, previously %d", name, arity, c.prog.BuiltinInfoTable[idx].Arity)
		}
		return idx, nil
	}
	idx := len(c.prog.BuiltinInfoTable)
	c.prog.BuiltinInfoTable = append(c.prog.BuiltinInfoTable, program.BuiltinInfo{Name: name, Arity: arity})
	c.builtinIndex[name] = idx
	return idx, nil
}

// sortedRulePaths is a small helper kept for diagnostics (e.g. error
// messages listing known rules); not used on any hot path.
func (c *Compiler) sortedRulePaths() []string {
	paths := make([]string, 0, len(c.ruleIndexByPath))
	for p := range c.ruleIndexByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
